package media

import (
	"context"

	"github.com/google/uuid"
)

// Stream groups tracks captured together, such as a camera and microphone.
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []*Track { return s.byKind(KindAudio) }
func (s *Stream) VideoTracks() []*Track { return s.byKind(KindVideo) }

func (s *Stream) byKind(k Kind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == k {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track. Tracks already stopped are left alone.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Constraints selects which user media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Devices is the capture API a call acquires media through.
type Devices interface {
	// UserMedia captures camera and/or microphone.
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	// DisplayMedia captures a screen. The returned video track ends by
	// itself when the user stops sharing.
	DisplayMedia(ctx context.Context) (*Stream, error)
}
