package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// ErrInvalidMessage wraps every decoding or validation failure.
var ErrInvalidMessage = errors.New("invalid signaling message")

type Type string

const (
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "candidate"
	TypeUserJoined Type = "user-joined"
	// TypePeerLeft is emitted by the relay, never by participants.
	TypePeerLeft Type = "peer-left"
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func DescriptionFromPion(desc webrtc.SessionDescription) *SessionDescription {
	return &SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported sdp type %q", ErrInvalidMessage, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate mirrors RTCIceCandidateInit as browsers serialize it.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type Message struct {
	Type      Type                `json:"type"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
	From      string              `json:"from,omitempty"`
}

func Offer(desc webrtc.SessionDescription, from string) Message {
	return Message{Type: TypeOffer, Offer: DescriptionFromPion(desc), From: from}
}

func Answer(desc webrtc.SessionDescription, from string) Message {
	return Message{Type: TypeAnswer, Answer: DescriptionFromPion(desc), From: from}
}

func CandidateMessage(init webrtc.ICECandidateInit, from string) Message {
	return Message{Type: TypeCandidate, Candidate: CandidateFromPion(init), From: from}
}

func UserJoined(from string) Message {
	return Message{Type: TypeUserJoined, From: from}
}

func PeerLeft(from string) Message {
	return Message{Type: TypePeerLeft, From: from}
}

// Parse decodes exactly one message. Unknown fields, trailing data and
// payloads that do not match the type are rejected.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
	}

	switch m.Type {
	case TypeOffer:
		if m.Offer == nil {
			return invalid("offer message missing offer")
		}
		if m.Offer.Type != "offer" {
			return invalid("offer message has offer.type=%q", m.Offer.Type)
		}
		if m.Offer.SDP == "" {
			return invalid("offer message has empty sdp")
		}
		if m.Answer != nil || m.Candidate != nil {
			return invalid("offer message has unexpected fields")
		}
	case TypeAnswer:
		if m.Answer == nil {
			return invalid("answer message missing answer")
		}
		if m.Answer.Type != "answer" {
			return invalid("answer message has answer.type=%q", m.Answer.Type)
		}
		if m.Answer.SDP == "" {
			return invalid("answer message has empty sdp")
		}
		if m.Offer != nil || m.Candidate != nil {
			return invalid("answer message has unexpected fields")
		}
	case TypeCandidate:
		if m.Candidate == nil {
			return invalid("candidate message missing candidate")
		}
		if m.Offer != nil || m.Answer != nil {
			return invalid("candidate message has unexpected fields")
		}
	case TypeUserJoined, TypePeerLeft:
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return invalid("%s message has unexpected fields", m.Type)
		}
	default:
		return invalid("unsupported message type %q", m.Type)
	}
	return nil
}

// Marshal validates and encodes m.
func (m Message) Marshal() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
