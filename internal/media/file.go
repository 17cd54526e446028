package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

// FileDevices captures from pre-encoded files: IVF (VP8/VP9) for camera and
// screen, Ogg/Opus for the microphone. Camera and microphone loop; the screen
// ends at end of file.
type FileDevices struct {
	CameraIVF     string
	MicrophoneOgg string
	ScreenIVF     string
}

func (d FileDevices) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "user-" + uuid.NewString()
	var tracks []*Track
	fail := func(err error) (*Stream, error) {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, err
	}

	if c.Video && d.CameraIVF != "" {
		t, err := openIVFTrack(d.CameraIVF, SourceCamera, streamID, true)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, t)
	}
	if c.Audio && d.MicrophoneOgg != "" {
		src, err := openOgg(d.MicrophoneOgg, true)
		if err != nil {
			return fail(err)
		}
		t, err := newTrack(KindAudio, SourceMicrophone, d.MicrophoneOgg, streamID, opusCodec, src)
		if err != nil {
			_ = src.Close()
			return fail(err)
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, ErrNoDevice
	}
	return NewStream(tracks...), nil
}

func (d FileDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.ScreenIVF == "" {
		return nil, ErrNoDevice
	}
	t, err := openIVFTrack(d.ScreenIVF, SourceScreen, "screen-"+uuid.NewString(), false)
	if err != nil {
		return nil, err
	}
	return NewStream(t), nil
}

func openIVFTrack(path string, source Source, streamID string, loop bool) (*Track, error) {
	src, codec, err := openIVF(path, loop)
	if err != nil {
		return nil, err
	}
	t, err := newTrack(KindVideo, source, path, streamID, codec, src)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return t, nil
}

// fileSource owns the open file and its close-once bookkeeping.
type fileSource struct {
	f         *os.File
	loop      bool
	closeOnce sync.Once
	closed    chan struct{}
}

func openFile(path string, loop bool) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return &fileSource{f: f, loop: loop, closed: make(chan struct{})}, nil
}

func (s *fileSource) rewind() error {
	_, err := s.f.Seek(0, io.SeekStart)
	return err
}

func (s *fileSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.f.Close()
	})
	return err
}

type ivfSource struct {
	*fileSource
	reader   *ivfreader.IVFReader
	duration time.Duration
	read     int
}

func openIVF(path string, loop bool) (*ivfSource, webrtc.RTPCodecCapability, error) {
	fs, err := openFile(path, loop)
	if err != nil {
		return nil, webrtc.RTPCodecCapability{}, err
	}
	reader, header, err := ivfreader.NewWith(fs.f)
	if err != nil {
		_ = fs.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("read ivf header %s: %w", path, err)
	}

	var codec webrtc.RTPCodecCapability
	switch header.FourCC {
	case "VP80":
		codec = vp8Codec
	case "VP90":
		codec = vp9Codec
	default:
		_ = fs.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported ivf codec %q in %s", header.FourCC, path)
	}

	duration := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		duration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	return &ivfSource{fileSource: fs, reader: reader, duration: duration}, codec, nil
}

func (s *ivfSource) NextFrame() (Frame, error) {
	for {
		if s.isClosed() {
			return Frame{}, io.ErrClosedPipe
		}
		data, _, err := s.reader.ParseNextFrame()
		if err == nil {
			s.read++
			return Frame{Data: data, Duration: s.duration, KeyFrame: len(data) > 0 && data[0]&0x01 == 0}, nil
		}
		if !errors.Is(err, io.EOF) || !s.loop || s.read == 0 {
			return Frame{}, err
		}
		if err := s.rewind(); err != nil {
			return Frame{}, err
		}
		reader, _, err := ivfreader.NewWith(s.f)
		if err != nil {
			return Frame{}, err
		}
		s.reader = reader
	}
}

type oggSource struct {
	*fileSource
	reader      *oggreader.OggReader
	lastGranule uint64
	read        int
}

func openOgg(path string, loop bool) (*oggSource, error) {
	fs, err := openFile(path, loop)
	if err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(fs.f)
	if err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("read ogg header %s: %w", path, err)
	}
	return &oggSource{fileSource: fs, reader: reader}, nil
}

var opusTagsMagic = []byte("OpusTags")

func (s *oggSource) NextFrame() (Frame, error) {
	for {
		if s.isClosed() {
			return Frame{}, io.ErrClosedPipe
		}
		page, header, err := s.reader.ParseNextPage()
		if err != nil {
			if !errors.Is(err, io.EOF) || !s.loop || s.read == 0 {
				return Frame{}, err
			}
			if err := s.rewind(); err != nil {
				return Frame{}, err
			}
			reader, _, err := oggreader.NewWith(s.f)
			if err != nil {
				return Frame{}, err
			}
			s.reader = reader
			s.lastGranule = 0
			continue
		}
		if bytes.HasPrefix(page, opusTagsMagic) || header.GranulePosition <= s.lastGranule {
			continue
		}

		samples := header.GranulePosition - s.lastGranule
		s.lastGranule = header.GranulePosition
		s.read++
		return Frame{
			Data:     page,
			Duration: time.Duration(float64(time.Second) * float64(samples) / opusSampleRate),
		}, nil
	}
}
