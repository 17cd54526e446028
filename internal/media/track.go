package media

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

const rtpMTU = 1200

// Track is a live local capture track.
//
// A disabled track stays attached to its sender: audio keeps transmitting
// silence and video keeps its clock running but sends no frames.
type Track struct {
	id     string
	label  string
	kind   Kind
	source Source
	codec  webrtc.RTPCodecCapability

	local      *webrtc.TrackLocalStaticRTP
	packetizer rtp.Packetizer
	frames     FrameSource

	enabled atomic.Bool
	ended   atomic.Bool
	endErr  atomic.Pointer[error]

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	onEnded []func()

	taps fanout
}

func newTrack(kind Kind, source Source, label, streamID string, codec webrtc.RTPCodecCapability, frames FrameSource) (*Track, error) {
	payloader, err := payloaderFor(codec.MimeType)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}

	t := &Track{
		id:         id,
		label:      label,
		kind:       kind,
		source:     source,
		codec:      codec,
		local:      local,
		packetizer: rtp.NewPacketizer(rtpMTU, 0, 0, payloader, rtp.NewRandomSequencer(), codec.ClockRate),
		frames:     frames,
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func payloaderFor(mimeType string) (rtp.Payloader, error) {
	switch mimeType {
	case webrtc.MimeTypeVP8:
		return &codecs.VP8Payloader{EnablePictureID: true}, nil
	case webrtc.MimeTypeVP9:
		return &codecs.VP9Payloader{}, nil
	case webrtc.MimeTypeOpus:
		return &codecs.OpusPayloader{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", mimeType)
	}
}

func (t *Track) ID() string       { return t.id }
func (t *Track) Label() string    { return t.label }
func (t *Track) Kind() Kind       { return t.kind }
func (t *Track) Source() Source   { return t.source }
func (t *Track) MimeType() string { return t.codec.MimeType }

// Local is the pion track to attach to an RTPSender.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *Track) ReadyState() ReadyState {
	if t.ended.Load() {
		return ReadyStateEnded
	}
	return ReadyStateLive
}

// OnEnded registers fn to run when the track ends on its own (source
// exhausted or End called). Stop does not fire it.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *Track) Subscribe(fn func(*rtp.Packet)) func() {
	return t.taps.subscribe(fn)
}

// Err reports why the source ended on its own; nil after Stop or while
// live, io.EOF for an exhausted source.
func (t *Track) Err() error {
	if p := t.endErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed once the pump has stopped sending.
func (t *Track) Done() <-chan struct{} { return t.done }

// Stop ends the track and releases its source. It reports whether this call
// did the release; later calls are no-ops.
func (t *Track) Stop() bool {
	released := false
	t.stopOnce.Do(func() {
		released = true
		t.ended.Store(true)
		close(t.stopped)
		_ = t.frames.Close()
	})
	return released
}

// End terminates the track from outside the application, like a user
// revoking a screen share through the browser. Ended handlers run on the
// calling goroutine.
func (t *Track) End() {
	if !t.Stop() {
		return
	}
	t.mu.Lock()
	handlers := append([]func(){}, t.onEnded...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (t *Track) pump() {
	defer close(t.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-t.stopped:
			return
		case <-timer.C:
		}

		frame, err := t.frames.NextFrame()
		if err != nil {
			select {
			case <-t.stopped:
			default:
				// A failing device ends the track the same way an exhausted
				// one does.
				t.endErr.Store(&err)
				t.End()
			}
			return
		}

		t.send(frame)
		timer.Reset(frame.Duration)
	}
}

func (t *Track) send(frame Frame) {
	samples := uint32(frame.Duration.Seconds() * float64(t.codec.ClockRate))

	payload := frame.Data
	if !t.enabled.Load() {
		if t.kind == KindVideo {
			t.packetizer.SkipSamples(samples)
			return
		}
		payload = opusSilence
	}

	for _, pkt := range t.packetizer.Packetize(payload, samples) {
		t.taps.publish(pkt)
		_ = t.local.WriteRTP(pkt)
	}
}
