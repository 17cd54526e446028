// Package media provides the local capture side of a call: tracks that
// packetize encoded frames onto pion local tracks, the devices that produce
// them, and feeds that expose remote tracks to observers.
package media

import (
	"errors"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrPermissionDenied means the user (or policy) refused capture.
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no capture device")
	// ErrPickerCancelled means the user dismissed the screen picker.
	ErrPickerCancelled = errors.New("screen picker cancelled")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func kindFromCodecType(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

type Source string

const (
	SourceCamera     Source = "camera"
	SourceMicrophone Source = "microphone"
	SourceScreen     Source = "screen"
)

type ReadyState string

const (
	ReadyStateLive  ReadyState = "live"
	ReadyStateEnded ReadyState = "ended"
)

// Frame is one encoded media sample.
type Frame struct {
	Data     []byte
	Duration time.Duration
	KeyFrame bool
}

// FrameSource produces encoded frames for a track. NextFrame returns io.EOF
// when the source ends on its own. Close releases the underlying device and
// may be called concurrently with NextFrame.
type FrameSource interface {
	NextFrame() (Frame, error)
	Close() error
}

// Feed is anything whose RTP packets can be observed: a local track or a
// remote one.
type Feed interface {
	ID() string
	Kind() Kind
	MimeType() string
	// Subscribe registers fn for every packet until cancel is called.
	Subscribe(fn func(*rtp.Packet)) (cancel func())
}

var (
	vp8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	vp9Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}
	opusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
)

// opusSilence is a 20ms Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}
