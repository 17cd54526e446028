package media

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteFeed reads a remote track and republishes its packets.
type RemoteFeed struct {
	track *webrtc.TrackRemote
	// keyFrame asks the sender for a fresh key frame (RTCP PLI).
	keyFrame func()

	taps fanout

	startOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewRemoteFeed wraps track. requestKeyFrame may be nil.
func NewRemoteFeed(track *webrtc.TrackRemote, requestKeyFrame func()) *RemoteFeed {
	return &RemoteFeed{
		track:    track,
		keyFrame: requestKeyFrame,
		done:     make(chan struct{}),
	}
}

func (f *RemoteFeed) ID() string       { return f.track.ID() }
func (f *RemoteFeed) StreamID() string { return f.track.StreamID() }
func (f *RemoteFeed) Kind() Kind       { return kindFromCodecType(f.track.Kind()) }
func (f *RemoteFeed) MimeType() string { return f.track.Codec().MimeType }

func (f *RemoteFeed) Subscribe(fn func(*rtp.Packet)) func() {
	return f.taps.subscribe(fn)
}

// RequestKeyFrame is a no-op for audio feeds.
func (f *RemoteFeed) RequestKeyFrame() {
	if f.keyFrame != nil && f.Kind() == KindVideo {
		f.keyFrame()
	}
}

// Start begins reading on a new goroutine. Later calls are no-ops.
func (f *RemoteFeed) Start() {
	f.startOnce.Do(func() {
		go f.run()
	})
}

func (f *RemoteFeed) run() {
	defer close(f.done)
	for {
		pkt, _, err := f.track.ReadRTP()
		if err != nil {
			f.errMu.Lock()
			f.err = err
			f.errMu.Unlock()
			return
		}
		f.taps.publish(pkt)
	}
}

// Done is closed when the remote track stops delivering packets.
func (f *RemoteFeed) Done() <-chan struct{} { return f.done }

func (f *RemoteFeed) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}
