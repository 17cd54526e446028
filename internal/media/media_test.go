package media

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

func waitForPackets(t *testing.T, tr *Track, n int, match func(*rtp.Packet) bool) {
	t.Helper()
	var count atomic.Int64
	got := make(chan struct{})
	cancel := tr.Subscribe(func(p *rtp.Packet) {
		if match != nil && !match(p) {
			return
		}
		if count.Add(1) == int64(n) {
			close(got)
		}
	})
	defer cancel()

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatalf("saw %d matching packets, want %d", count.Load(), n)
	}
}

func TestSyntheticUserMedia(t *testing.T) {
	d := &SyntheticDevices{}
	s, err := d.UserMedia(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}
	defer s.Stop()

	if len(s.AudioTracks()) != 1 || len(s.VideoTracks()) != 1 {
		t.Fatalf("audio=%d video=%d, want 1 each", len(s.AudioTracks()), len(s.VideoTracks()))
	}
	cam := s.VideoTracks()[0]
	if cam.Source() != SourceCamera || cam.MimeType() != "video/VP8" || cam.ReadyState() != ReadyStateLive {
		t.Fatalf("camera track source=%s mime=%s state=%s", cam.Source(), cam.MimeType(), cam.ReadyState())
	}
	waitForPackets(t, cam, 3, nil)
}

func TestSyntheticFailures(t *testing.T) {
	ctx := context.Background()

	if _, err := (&SyntheticDevices{DenyUserMedia: true}).UserMedia(ctx, Constraints{Audio: true, Video: true}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err=%v, want %v", err, ErrPermissionDenied)
	}
	if _, err := (&SyntheticDevices{CancelPicker: true}).DisplayMedia(ctx); !errors.Is(err, ErrPickerCancelled) {
		t.Fatalf("err=%v, want %v", err, ErrPickerCancelled)
	}
	if _, err := (&SyntheticDevices{NoCamera: true}).UserMedia(ctx, Constraints{Video: true}); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err=%v, want %v", err, ErrNoDevice)
	}

	s, err := (&SyntheticDevices{NoCamera: true}).UserMedia(ctx, Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("UserMedia without camera: %v", err)
	}
	defer s.Stop()
	if len(s.VideoTracks()) != 0 || len(s.AudioTracks()) != 1 {
		t.Fatalf("expected audio only, got %d tracks", len(s.Tracks()))
	}
}

func TestTrackStopReleasesOnceWithoutEndedEvent(t *testing.T) {
	d := &SyntheticDevices{}
	s, err := d.UserMedia(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}
	mic := s.AudioTracks()[0]

	var ended atomic.Int32
	mic.OnEnded(func() { ended.Add(1) })

	if !mic.Stop() {
		t.Fatalf("first Stop reported no release")
	}
	if mic.Stop() {
		t.Fatalf("second Stop reported a release")
	}
	s.Stop()
	mic.End()

	select {
	case <-mic.Done():
	case <-time.After(time.Second):
		t.Fatalf("pump did not exit")
	}
	if got := d.Released(SourceMicrophone); got != 1 {
		t.Fatalf("Released=%d, want 1", got)
	}
	if ended.Load() != 0 {
		t.Fatalf("ended handlers ran after Stop")
	}
	if mic.ReadyState() != ReadyStateEnded {
		t.Fatalf("ReadyState=%s, want ended", mic.ReadyState())
	}
}

func TestTrackEndFiresHandlersOnce(t *testing.T) {
	d := &SyntheticDevices{}
	s, err := d.DisplayMedia(context.Background())
	if err != nil {
		t.Fatalf("DisplayMedia: %v", err)
	}
	screen := s.VideoTracks()[0]

	var ended atomic.Int32
	screen.OnEnded(func() { ended.Add(1) })
	screen.End()
	screen.End()

	if ended.Load() != 1 {
		t.Fatalf("ended handlers ran %d times, want 1", ended.Load())
	}
	if got := d.Released(SourceScreen); got != 1 {
		t.Fatalf("Released=%d, want 1", got)
	}
}

func TestScreenSourceEndsByItself(t *testing.T) {
	d := &SyntheticDevices{ScreenFrames: 3}
	s, err := d.DisplayMedia(context.Background())
	if err != nil {
		t.Fatalf("DisplayMedia: %v", err)
	}
	screen := s.VideoTracks()[0]

	endedCh := make(chan struct{})
	screen.OnEnded(func() { close(endedCh) })

	select {
	case <-endedCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("screen track never ended")
	}
	if !errors.Is(screen.Err(), io.EOF) {
		t.Fatalf("Err=%v, want EOF", screen.Err())
	}
	if d.Released(SourceScreen) != 1 {
		t.Fatalf("screen not released")
	}
}

func TestDisabledTracks(t *testing.T) {
	d := &SyntheticDevices{}
	s, err := d.UserMedia(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}
	defer s.Stop()
	mic, cam := s.AudioTracks()[0], s.VideoTracks()[0]

	mic.SetEnabled(false)
	waitForPackets(t, mic, 3, func(p *rtp.Packet) bool {
		return string(p.Payload) == string(opusSilence)
	})
	mic.SetEnabled(true)
	waitForPackets(t, mic, 1, func(p *rtp.Packet) bool {
		return len(p.Payload) > 0 && p.Payload[0] == 0xfc
	})

	cam.SetEnabled(false)
	// Let any frame already being sent drain.
	time.Sleep(50 * time.Millisecond)
	var sent atomic.Int32
	cancel := cam.Subscribe(func(*rtp.Packet) { sent.Add(1) })
	time.Sleep(150 * time.Millisecond)
	cancel()
	if sent.Load() != 0 {
		t.Fatalf("disabled video sent %d packets", sent.Load())
	}
	if cam.Enabled() || cam.ReadyState() != ReadyStateLive {
		t.Fatalf("disabled camera enabled=%v state=%s", cam.Enabled(), cam.ReadyState())
	}
}

func writeIVF(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ivf")

	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 320)
	binary.LittleEndian.PutUint16(header[14:], 240)
	binary.LittleEndian.PutUint32(header[16:], 1000) // timebase denominator
	binary.LittleEndian.PutUint32(header[20:], 5)    // numerator: 5ms frames
	binary.LittleEndian.PutUint32(header[24:], uint32(len(frames)))

	out := header
	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		out = append(out, fh...)
		out = append(out, f...)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatalf("write ivf: %v", err)
	}
	return path
}

func writeOgg(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mic.ogg")
	w, err := oggwriter.New(path, opusSampleRate, 2)
	if err != nil {
		t.Fatalf("oggwriter: %v", err)
	}
	for i := 0; i < pages; i++ {
		if err := w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, byte(i), 1, 2, 3},
		}); err != nil {
			t.Fatalf("write page: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close ogg: %v", err)
	}
	return path
}

func TestFileCameraLoops(t *testing.T) {
	path := writeIVF(t, [][]byte{syntheticVP8Frame(0), syntheticVP8Frame(1)})
	s, err := FileDevices{CameraIVF: path}.UserMedia(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}
	defer s.Stop()

	if len(s.Tracks()) != 1 {
		t.Fatalf("tracks=%d, want camera only", len(s.Tracks()))
	}
	waitForPackets(t, s.VideoTracks()[0], 6, func(p *rtp.Packet) bool { return p.Marker })
}

func TestFileScreenEndsAtEOF(t *testing.T) {
	path := writeIVF(t, [][]byte{syntheticVP8Frame(0), syntheticVP8Frame(1)})
	s, err := FileDevices{ScreenIVF: path}.DisplayMedia(context.Background())
	if err != nil {
		t.Fatalf("DisplayMedia: %v", err)
	}
	screen := s.VideoTracks()[0]
	endedCh := make(chan struct{})
	screen.OnEnded(func() { close(endedCh) })

	select {
	case <-endedCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("screen file never ended")
	}
}

func TestFileMicrophone(t *testing.T) {
	path := writeOgg(t, 3)
	s, err := FileDevices{MicrophoneOgg: path}.UserMedia(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}
	defer s.Stop()

	mic := s.AudioTracks()[0]
	if mic.MimeType() != "audio/opus" {
		t.Fatalf("mime=%s", mic.MimeType())
	}
	waitForPackets(t, mic, 4, nil)
}

func TestFileDevicesMissing(t *testing.T) {
	ctx := context.Background()
	if _, err := (FileDevices{CameraIVF: filepath.Join(t.TempDir(), "nope.ivf")}).UserMedia(ctx, Constraints{Video: true}); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err=%v, want %v", err, ErrNoDevice)
	}
	if _, err := (FileDevices{}).DisplayMedia(ctx); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err=%v, want %v", err, ErrNoDevice)
	}
}
