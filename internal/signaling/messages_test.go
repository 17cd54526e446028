package signaling

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParse_Offer(t *testing.T) {
	raw := []byte(`{"type":"offer","offer":{"type":"offer","sdp":"v=0"},"from":"alice"}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeOffer || got.Offer == nil || got.Offer.SDP != "v=0" || got.From != "alice" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}

	desc, err := got.Offer.ToPion()
	if err != nil {
		t.Fatalf("ToPion: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP != "v=0" {
		t.Fatalf("unexpected pion description: %#v", desc)
	}
}

func TestParse_BrowserCandidate(t *testing.T) {
	raw := []byte(`{
		"type":"candidate",
		"candidate":{
			"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0,
			"usernameFragment":"abcd"
		}
	}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	init := got.Candidate.ToPion()
	if init.SDPMid == nil || *init.SDPMid != "0" {
		t.Fatalf("sdpMid=%v, want 0", init.SDPMid)
	}
	if init.SDPMLineIndex == nil || *init.SDPMLineIndex != 0 {
		t.Fatalf("sdpMLineIndex=%v, want 0", init.SDPMLineIndex)
	}
	if init.UsernameFragment == nil || *init.UsernameFragment != "abcd" {
		t.Fatalf("usernameFragment=%v, want abcd", init.UsernameFragment)
	}
}

func TestParse_UserJoinedWithoutPayload(t *testing.T) {
	got, err := Parse([]byte(`{"type":"user-joined"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeUserJoined || got.From != "" {
		t.Fatalf("unexpected message: %#v", got)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     `{"type":"user-joined","unexpected":true}`,
		"trailing data":     `{"type":"user-joined"}{"type":"user-joined"}`,
		"unknown type":      `{"type":"hello"}`,
		"offer missing sdp": `{"type":"offer"}`,
		"offer wrong type":  `{"type":"offer","offer":{"type":"answer","sdp":"v=0"}}`,
		"answer with offer": `{"type":"answer","answer":{"type":"answer","sdp":"v=0"},"offer":{"type":"offer","sdp":"v=0"}}`,
		"candidate missing": `{"type":"candidate"}`,
		"joined with sdp":   `{"type":"user-joined","offer":{"type":"offer","sdp":"v=0"}}`,
		"not json":          `offer`,
	}
	for name, raw := range cases {
		_, err := Parse([]byte(raw))
		if !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("%s: err=%v, want %v", name, err, ErrInvalidMessage)
		}
	}
}

func TestMarshal_WireShape(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	b, err := CandidateMessage(webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 1 192.0.2.1 9 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}, "bob").Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"type":"candidate"`, `"sdpMid":"0"`, `"sdpMLineIndex":0`, `"from":"bob"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("%s missing %s", s, want)
		}
	}

	b, err = PeerLeft("x").Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"type":"peer-left","from":"x"}` {
		t.Fatalf("peer-left=%s", b)
	}

	if _, err := (Message{Type: TypeOffer}).Marshal(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected invalid offer to fail marshal, got %v", err)
	}
}

func TestSessionDescription_ToPionRejectsUnknownType(t *testing.T) {
	if _, err := (SessionDescription{Type: "pranswer", SDP: "v=0"}).ToPion(); err == nil {
		t.Fatalf("expected error")
	}
}
