// Package recorder captures whichever feed is the call's main presenter into
// an in-memory container that can be saved when recording stops.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
)

const baseName = "class-recording"

var (
	ErrRecording    = errors.New("already recording")
	ErrNotRecording = errors.New("not recording")
	// ErrCodecMismatch is returned by Follow when the new feed cannot be
	// appended to the container already being written.
	ErrCodecMismatch = errors.New("feed codec does not match recording")
	ErrUnsupported   = errors.New("feed codec cannot be recorded")
)

// File is a finished recording.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Recorder is a passive observer: write failures are logged and remembered
// but never propagate to the feed being recorded.
type Recorder struct {
	log *slog.Logger

	mu        sync.Mutex
	recording bool
	mimeType  string
	feedID    string
	cancel    func()
	buf       *bytes.Buffer
	writer    rtpWriter
	err       error

	// Packets from a newly followed feed are shifted to continue where the
	// previous feed stopped.
	switching bool
	tsOffset  uint32
	seqOffset uint16
	lastTS    uint32
	lastSeq   uint16
	tsStep    uint32
}

func New(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: logger}
}

// Start begins recording feed.
func (r *Recorder) Start(feed media.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrRecording
	}

	buf := &bytes.Buffer{}
	mime := feed.MimeType()
	var (
		w    rtpWriter
		err  error
		step uint32
	)
	switch mime {
	case webrtc.MimeTypeVP8:
		w, err = ivfwriter.NewWith(buf)
		step = 3000
	case webrtc.MimeTypeOpus:
		w, err = oggwriter.NewWith(buf, 48000, 2)
		step = 960
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
	if err != nil {
		return fmt.Errorf("create recording writer: %w", err)
	}

	r.recording = true
	r.mimeType = mime
	r.buf = buf
	r.writer = w
	r.err = nil
	r.tsStep = step
	r.tsOffset, r.seqOffset = 0, 0
	r.switching = false
	r.attach(feed)
	r.log.Info("recording started", "feed", feed.ID(), "mime", mime)
	return nil
}

// Follow switches the recording to feed, for example when the main presenter
// changes to a screen share. It is a no-op when not recording.
func (r *Recorder) Follow(feed media.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil
	}
	if feed.ID() == r.feedID {
		return nil
	}
	if feed.MimeType() != r.mimeType {
		return fmt.Errorf("%w: %s into %s", ErrCodecMismatch, feed.MimeType(), r.mimeType)
	}

	r.cancel()
	r.switching = true
	r.attach(feed)
	r.log.Info("recording follows new presenter", "feed", feed.ID())
	return nil
}

// must hold r.mu
func (r *Recorder) attach(feed media.Feed) {
	r.feedID = feed.ID()
	r.cancel = feed.Subscribe(r.write)
	if kf, ok := feed.(interface{ RequestKeyFrame() }); ok {
		kf.RequestKeyFrame()
	}
}

func (r *Recorder) write(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.err != nil {
		return
	}

	if r.switching {
		r.tsOffset = r.lastTS + r.tsStep - pkt.Timestamp
		r.seqOffset = r.lastSeq + 1 - pkt.SequenceNumber
		r.switching = false
	}
	pkt.Timestamp += r.tsOffset
	pkt.SequenceNumber += r.seqOffset
	r.lastTS = pkt.Timestamp
	r.lastSeq = pkt.SequenceNumber

	if err := r.writer.WriteRTP(pkt); err != nil {
		r.err = err
		r.log.Warn("recording write failed; further media dropped", "err", err)
	}
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop finishes the container and returns it. A write failure during
// recording is returned alongside whatever was captured before it.
func (r *Recorder) Stop() (File, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return File{}, ErrNotRecording
	}
	cancel := r.cancel
	r.recording = false
	r.mu.Unlock()

	// Cancel outside the lock; the feed may be delivering a packet.
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	closeErr := r.writer.Close()

	f := File{Data: r.buf.Bytes()}
	if r.mimeType == webrtc.MimeTypeOpus {
		f.Name, f.MimeType = baseName+".ogg", "audio/ogg"
	} else {
		f.Name, f.MimeType = baseName+".ivf", "video/x-ivf"
	}
	r.log.Info("recording stopped", "bytes", len(f.Data), "file", f.Name)

	if r.err != nil {
		return f, r.err
	}
	return f, closeErr
}
