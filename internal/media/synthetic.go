package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	syntheticVideoFrameDuration = time.Second / 30
	syntheticAudioFrameDuration = 20 * time.Millisecond
	syntheticKeyFrameInterval   = 30
)

// SyntheticDevices generates VP8 and Opus frames without any hardware.
// The exported fields shape failures and must be set before first use.
type SyntheticDevices struct {
	// DenyUserMedia makes UserMedia fail with ErrPermissionDenied.
	DenyUserMedia bool
	// NoCamera captures audio only, as on a machine without a webcam.
	NoCamera bool
	// CancelPicker makes DisplayMedia fail with ErrPickerCancelled.
	CancelPicker bool
	// ScreenFrames ends screen tracks after that many frames (0 = never).
	ScreenFrames int

	mu       sync.Mutex
	released map[Source]int
	opened   map[Source]int
}

func (d *SyntheticDevices) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.DenyUserMedia {
		return nil, ErrPermissionDenied
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: nothing requested", ErrNoDevice)
	}
	if !c.Audio && d.NoCamera {
		return nil, ErrNoDevice
	}

	streamID := "user-" + uuid.NewString()
	var tracks []*Track
	if c.Video && !d.NoCamera {
		t, err := newTrack(KindVideo, SourceCamera, "synthetic camera", streamID, vp8Codec, d.newVideoSource(SourceCamera, 0))
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Audio {
		t, err := newTrack(KindAudio, SourceMicrophone, "synthetic microphone", streamID, opusCodec, d.newAudioSource())
		if err != nil {
			for _, prev := range tracks {
				prev.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return NewStream(tracks...), nil
}

func (d *SyntheticDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.CancelPicker {
		return nil, ErrPickerCancelled
	}
	streamID := "screen-" + uuid.NewString()
	t, err := newTrack(KindVideo, SourceScreen, "synthetic screen", streamID, vp8Codec, d.newVideoSource(SourceScreen, d.ScreenFrames))
	if err != nil {
		return nil, err
	}
	return NewStream(t), nil
}

// Opened reports how many sources of kind src were opened.
func (d *SyntheticDevices) Opened(src Source) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[src]
}

// Released reports how many sources of kind src were released.
func (d *SyntheticDevices) Released(src Source) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released[src]
}

func (d *SyntheticDevices) open(src Source) {
	d.mu.Lock()
	if d.opened == nil {
		d.opened = make(map[Source]int)
	}
	d.opened[src]++
	d.mu.Unlock()
}

func (d *SyntheticDevices) release(src Source) {
	d.mu.Lock()
	if d.released == nil {
		d.released = make(map[Source]int)
	}
	d.released[src]++
	d.mu.Unlock()
}

func (d *SyntheticDevices) newVideoSource(src Source, limit int) *syntheticSource {
	d.open(src)
	return &syntheticSource{
		devices: d,
		source:  src,
		limit:   limit,
		next: func(n int) Frame {
			return Frame{
				Data:     syntheticVP8Frame(n),
				Duration: syntheticVideoFrameDuration,
				KeyFrame: n%syntheticKeyFrameInterval == 0,
			}
		},
	}
}

func (d *SyntheticDevices) newAudioSource() *syntheticSource {
	d.open(SourceMicrophone)
	return &syntheticSource{
		devices: d,
		source:  SourceMicrophone,
		next: func(n int) Frame {
			data := make([]byte, 1+40)
			data[0] = 0xfc // CELT fullband 20ms, mono
			binary.BigEndian.PutUint32(data[1:], uint32(n))
			return Frame{Data: data, Duration: syntheticAudioFrameDuration}
		},
	}
}

type syntheticSource struct {
	devices *SyntheticDevices
	source  Source
	limit   int
	next    func(n int) Frame

	n      int
	closed atomic.Bool
	once   sync.Once
}

func (s *syntheticSource) NextFrame() (Frame, error) {
	if s.closed.Load() {
		return Frame{}, io.ErrClosedPipe
	}
	if s.limit > 0 && s.n >= s.limit {
		return Frame{}, io.EOF
	}
	f := s.next(s.n)
	s.n++
	return f, nil
}

func (s *syntheticSource) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.devices.release(s.source)
	})
	return nil
}

// syntheticVP8Frame builds a frame with a valid VP8 frame tag so receivers
// and IVF writers can tell key frames apart. The partitions are filler.
func syntheticVP8Frame(n int) []byte {
	key := n%syntheticKeyFrameInterval == 0
	if !key {
		frame := make([]byte, 3+32)
		frame[0] = 0x11 // inter frame, show_frame
		binary.BigEndian.PutUint32(frame[3:], uint32(n))
		return frame
	}

	frame := make([]byte, 10+64)
	frame[0] = 0x10 // key frame, show_frame
	frame[3], frame[4], frame[5] = 0x9d, 0x01, 0x2a
	binary.LittleEndian.PutUint16(frame[6:], 320)
	binary.LittleEndian.PutUint16(frame[8:], 240)
	binary.BigEndian.PutUint32(frame[10:], uint32(n))
	return frame
}
