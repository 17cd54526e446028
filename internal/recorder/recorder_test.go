package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
)

type fakeFeed struct {
	id   string
	kind media.Kind
	mime string

	mu        sync.Mutex
	subs      []func(*rtp.Packet)
	keyFrames int
}

func (f *fakeFeed) ID() string       { return f.id }
func (f *fakeFeed) Kind() media.Kind { return f.kind }
func (f *fakeFeed) MimeType() string { return f.mime }

func (f *fakeFeed) Subscribe(fn func(*rtp.Packet)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	idx := len(f.subs) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.subs[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeFeed) RequestKeyFrame() {
	f.mu.Lock()
	f.keyFrames++
	f.mu.Unlock()
}

func (f *fakeFeed) emit(pkt *rtp.Packet) {
	f.mu.Lock()
	subs := append([]func(*rtp.Packet){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(pkt)
		}
	}
}

func (f *fakeFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fn := range f.subs {
		if fn != nil {
			n++
		}
	}
	return n
}

func videoFeed(id string) *fakeFeed {
	return &fakeFeed{id: id, kind: media.KindVideo, mime: webrtc.MimeTypeVP8}
}

// vp8KeyFramePacket is a single-packet VP8 key frame: a one byte payload
// descriptor with the start bit, then the frame.
func vp8KeyFramePacket(seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, Marker: true, SequenceNumber: seq, Timestamp: ts},
		Payload: []byte{0x10, 0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xf0, 0x00},
	}
}

func readIVFTimestamps(t *testing.T, data []byte) []uint64 {
	t.Helper()
	reader, _, err := ivfreader.NewWith(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ivf header: %v", err)
	}
	var out []uint64
	for {
		_, h, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("ivf frame: %v", err)
		}
		out = append(out, h.Timestamp)
	}
}

func TestRecorderFollowsPresenterIntoOneFile(t *testing.T) {
	rec := New(nil)
	camera := videoFeed("camera")
	screen := videoFeed("screen")

	if err := rec.Start(camera); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		camera.emit(vp8KeyFramePacket(uint16(100+i), uint32(9000+i*3000)))
	}

	if err := rec.Follow(screen); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if camera.active() != 0 {
		t.Fatalf("camera still subscribed after Follow")
	}
	if screen.keyFrames != 1 {
		t.Fatalf("keyFrames requested=%d, want 1", screen.keyFrames)
	}
	for i := 0; i < 2; i++ {
		screen.emit(vp8KeyFramePacket(uint16(7+i), uint32(50+i*3000)))
	}

	f, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.Name != "class-recording.ivf" || f.MimeType != "video/x-ivf" {
		t.Fatalf("file=%s %s", f.Name, f.MimeType)
	}
	if screen.active() != 0 {
		t.Fatalf("screen still subscribed after Stop")
	}

	ts := readIVFTimestamps(t, f.Data)
	if len(ts) != 5 {
		t.Fatalf("frames=%d, want 5", len(ts))
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			t.Fatalf("timestamps not increasing: %v", ts)
		}
	}
}

func TestRecorderAudio(t *testing.T) {
	rec := New(nil)
	mic := &fakeFeed{id: "mic", kind: media.KindAudio, mime: webrtc.MimeTypeOpus}

	if err := rec.Start(mic); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		mic.emit(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 1, 2, 3},
		})
	}
	f, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.Name != "class-recording.ogg" || !bytes.HasPrefix(f.Data, []byte("OggS")) {
		t.Fatalf("file=%s data prefix=%q", f.Name, f.Data[:4])
	}
}

func TestRecorderStateErrors(t *testing.T) {
	rec := New(nil)
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop err=%v, want %v", err, ErrNotRecording)
	}
	if err := rec.Follow(videoFeed("x")); err != nil {
		t.Fatalf("Follow while idle: %v", err)
	}
	if err := rec.Start(&fakeFeed{id: "h264", mime: webrtc.MimeTypeH264}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Start err=%v, want %v", err, ErrUnsupported)
	}

	if err := rec.Start(videoFeed("a")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rec.Recording() {
		t.Fatalf("Recording=false after Start")
	}
	if err := rec.Start(videoFeed("b")); !errors.Is(err, ErrRecording) {
		t.Fatalf("second Start err=%v, want %v", err, ErrRecording)
	}
	if err := rec.Follow(&fakeFeed{id: "mic", mime: webrtc.MimeTypeOpus}); !errors.Is(err, ErrCodecMismatch) {
		t.Fatalf("Follow err=%v, want %v", err, ErrCodecMismatch)
	}
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Recording() {
		t.Fatalf("Recording=true after Stop")
	}
}

func TestRecorderCapturesLocalTrack(t *testing.T) {
	devices := &media.SyntheticDevices{}
	stream, err := devices.UserMedia(context.Background(), media.Constraints{Video: true})
	if err != nil {
		t.Fatalf("UserMedia: %v", err)
	}
	defer stream.Stop()

	rec := New(nil)
	if err := rec.Start(stream.VideoTracks()[0]); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)
	f, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := len(readIVFTimestamps(t, f.Data)); n == 0 {
		t.Fatalf("no frames recorded")
	}
}
