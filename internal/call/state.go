package call

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
)

type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateReady          State = "ready"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting-answer"
	StateAnswering      State = "answering"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateFailed         State = "failed"
	StateEnded          State = "ended"
)

// Terminal states release all media; only HangUp or Close follow them.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateEnded
}

// preConnect states are the ones in which losing signaling fails the call.
func (s State) preConnect() bool {
	switch s {
	case StateIdle, StateAcquiringMedia, StateReady, StateOffering,
		StateAwaitingAnswer, StateAnswering, StateConnecting:
		return true
	}
	return false
}

// Reason qualifies StateFailed and StateDisconnected.
type Reason string

const (
	ReasonMediaDenied    Reason = "media-denied"
	ReasonNoDevice       Reason = "no-device"
	ReasonSignalingLost  Reason = "signaling-lost"
	ReasonICEFailed      Reason = "ice-failed"
	ReasonICEDisconnect  Reason = "ice-disconnected"
	ReasonTransportClose Reason = "transport-closed"
	ReasonHangUp         Reason = "hang-up"
)

type EventType string

const (
	EventStateChanged       EventType = "state-changed"
	EventMediaReady         EventType = "media-ready"
	EventRemoteTrack        EventType = "remote-track"
	EventScreenShareChanged EventType = "screen-share-changed"
	EventPreviewChanged     EventType = "preview-changed"
	EventNotice             EventType = "notice"
	EventPeerJoined         EventType = "peer-joined"
	EventPeerLeft           EventType = "peer-left"
)

// Event is delivered to observers in the order the call produced it.
// Fields are set according to Type.
type Event struct {
	Type EventType

	// EventStateChanged
	State  State
	Prev   State
	Reason Reason

	// EventMediaReady
	Stream *media.Stream
	// EventPreviewChanged; nil when the preview is empty.
	Preview *media.Track
	// EventRemoteTrack
	Remote *media.RemoteFeed
	// EventScreenShareChanged
	Sharing bool

	// EventNotice: a short human readable message, with the cause if any.
	Message string
	Err     error

	// EventPeerJoined, EventPeerLeft
	Peer string
}

// Observer receives events on a dedicated goroutine, so it may call back
// into the Call.
type Observer func(Event)

// Snapshot is a point-in-time view of a call.
type Snapshot struct {
	State  State
	Reason Reason

	Sharing   bool
	Muted     bool
	CameraOff bool

	HasPeerConnection bool
	// VideoSenderTrackID is the id of the track the video sender currently
	// transmits, "" when it sends nothing.
	VideoSenderTrackID string
	AudioSenderTrackID string

	PendingRemoteCandidates int
	PendingLocalCandidates  int
	RemoteFeeds             int
}
