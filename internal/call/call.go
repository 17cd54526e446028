// Package call drives one participant's side of a two-party call: it
// acquires media, negotiates a single peer connection through the signaling
// relay, and swaps the outbound video between camera and screen without
// renegotiating.
//
// Every state mutation happens on the call's own event loop. Intents from the
// application and callbacks from pion are queued onto it, so the state
// machine never needs locks.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

var (
	// ErrSignalingUnavailable is returned when a message could not be
	// handed to the relay.
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	// ErrNoVideoSender is returned by ToggleScreenShare before a peer
	// connection exists.
	ErrNoVideoSender = errors.New("no outbound video sender")
	ErrInvalidState  = errors.New("invalid call state")
	ErrEnded         = errors.New("call ended")
)

// Signaler delivers messages to the other participant.
type Signaler interface {
	Send(msg signaling.Message) error
}

type Config struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	Devices     media.Devices
	Constraints media.Constraints
	Signaler    Signaler

	// ParticipantID tags outgoing messages and breaks offer glare: the
	// smaller id answers.
	ParticipantID string

	Logger *slog.Logger
}

type Call struct {
	cfg Config
	id  string
	log *slog.Logger

	tasks  *queue[func()]
	events *queue[Event]
	done   chan struct{}
	closed sync.Once

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	// Owned by the event loop.
	state  State
	reason Reason

	stream *media.Stream
	audio  *media.Track
	camera *media.Track

	pc          *webrtc.PeerConnection
	generation  int
	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
	remoteFeeds []*media.RemoteFeed

	remoteCandidates candidateBuffer
	localCandidates  candidateBuffer
	pendingOffer     *signaling.Message

	screen      *media.Track
	savedCamera *media.Track
	sharing     bool
	preview     *media.Track

	signalingDown bool
}

func New(cfg Config) (*Call, error) {
	if cfg.API == nil {
		return nil, errors.New("call: nil webrtc API")
	}
	if cfg.Devices == nil {
		return nil, errors.New("call: nil devices")
	}
	if cfg.Signaler == nil {
		return nil, errors.New("call: nil signaler")
	}
	if !cfg.Constraints.Audio && !cfg.Constraints.Video {
		cfg.Constraints = media.Constraints{Audio: true, Video: true}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Call{
		cfg:       cfg,
		id:        cfg.ParticipantID,
		log:       logger.With("participant", cfg.ParticipantID),
		tasks:     newQueue[func()](),
		events:    newQueue[Event](),
		done:      make(chan struct{}),
		observers: make(map[int]Observer),
		state:     StateIdle,
	}
	go c.loop()
	go c.dispatch()
	return c, nil
}

func (c *Call) loop() {
	defer close(c.done)
	for {
		closed := c.tasks.isClosed()
		tasks := c.tasks.drain()
		for _, task := range tasks {
			task()
		}
		if closed && len(tasks) == 0 {
			return
		}
		if len(tasks) == 0 {
			<-c.tasks.ready
		}
	}
}

func (c *Call) dispatch() {
	for {
		closed := c.events.isClosed()
		events := c.events.drain()
		if closed && len(events) == 0 {
			return
		}
		if len(events) == 0 {
			<-c.events.ready
			continue
		}

		c.obsMu.Lock()
		obs := make([]Observer, 0, len(c.observers))
		for _, o := range c.observers {
			obs = append(obs, o)
		}
		c.obsMu.Unlock()
		for _, ev := range events {
			for _, o := range obs {
				o(ev)
			}
		}
	}
}

// post queues fn on the event loop without waiting.
func (c *Call) post(fn func()) bool {
	return c.tasks.push(fn)
}

// do runs fn on the event loop and waits for its result.
func (c *Call) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !c.post(func() { res <- fn() }) {
		return ErrEnded
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrEnded
		}
	}
}

func (c *Call) emit(ev Event) {
	c.events.push(ev)
}

func (c *Call) notice(msg string, err error) {
	if err != nil {
		c.log.Warn(msg, "err", err)
	} else {
		c.log.Info(msg)
	}
	c.emit(Event{Type: EventNotice, Message: msg, Err: err})
}

func (c *Call) setState(s State, reason Reason) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.reason = reason
	c.log.Info("call state changed", "state", s, "prev", prev, "reason", reason)
	c.emit(Event{Type: EventStateChanged, State: s, Prev: prev, Reason: reason})
}

// Subscribe registers obs for every future event.
func (c *Call) Subscribe(obs Observer) (unsubscribe func()) {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = obs
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Call) ParticipantID() string { return c.id }

// Snapshot reads the current state from the event loop.
func (c *Call) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() error {
		s = Snapshot{
			State:                   c.state,
			Reason:                  c.reason,
			Sharing:                 c.sharing,
			Muted:                   c.audio != nil && !c.audio.Enabled(),
			CameraOff:               c.camera != nil && !c.camera.Enabled(),
			HasPeerConnection:       c.pc != nil,
			PendingRemoteCandidates: c.remoteCandidates.size(),
			PendingLocalCandidates:  c.localCandidates.size(),
			RemoteFeeds:             len(c.remoteFeeds),
		}
		if c.videoSender != nil && c.videoSender.Track() != nil {
			s.VideoSenderTrackID = c.videoSender.Track().ID()
		}
		if c.audioSender != nil && c.audioSender.Track() != nil {
			s.AudioSenderTrackID = c.audioSender.Track().ID()
		}
		return nil
	})
	return s, err
}

// Start acquires camera and microphone. A remote offer that arrived earlier
// is answered as soon as media is ready.
func (c *Call) Start(ctx context.Context) error {
	err := c.do(ctx, func() error {
		if c.state != StateIdle {
			return ErrInvalidState
		}
		c.setState(StateAcquiringMedia, "")
		return nil
	})
	if err != nil {
		return err
	}

	stream, mediaErr := c.cfg.Devices.UserMedia(ctx, c.cfg.Constraints)
	err = c.do(context.Background(), func() error {
		return c.mediaAcquired(stream, mediaErr)
	})
	if err != nil && stream != nil && errors.Is(err, ErrEnded) {
		stream.Stop()
	}
	return err
}

func (c *Call) mediaAcquired(stream *media.Stream, err error) error {
	if c.state != StateAcquiringMedia {
		if stream != nil {
			stream.Stop()
		}
		return ErrEnded
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller gave up waiting; nothing was refused, so Start may be
		// tried again.
		c.notice("camera and microphone request was abandoned", err)
		c.setState(StateIdle, "")
		return err
	}
	if err != nil {
		reason, msg := ReasonMediaDenied, "camera and microphone access was denied"
		if errors.Is(err, media.ErrNoDevice) {
			reason, msg = ReasonNoDevice, "no camera or microphone was found"
		}
		c.notice(msg, err)
		c.setState(StateFailed, reason)
		return err
	}

	c.stream = stream
	if a := stream.AudioTracks(); len(a) > 0 {
		c.audio = a[0]
	}
	if v := stream.VideoTracks(); len(v) > 0 {
		c.camera = v[0]
	}
	c.emit(Event{Type: EventMediaReady, Stream: stream})
	c.setPreview(c.camera)
	c.setState(StateReady, "")

	if offer := c.pendingOffer; offer != nil {
		c.pendingOffer = nil
		c.log.Debug("answering held offer", "from", offer.From)
		_ = c.answer(*offer)
	}
	return nil
}

func (c *Call) setPreview(t *media.Track) {
	if c.preview == t {
		return
	}
	c.preview = t
	c.emit(Event{Type: EventPreviewChanged, Preview: t})
}

// Offer creates the peer connection and sends an offer. From
// StateAwaitingAnswer it discards the outstanding offer and sends a new one,
// for a peer that joined after the first was lost.
func (c *Call) Offer(ctx context.Context) error {
	return c.do(ctx, func() error {
		switch c.state {
		case StateReady:
		case StateAwaitingAnswer:
			c.resetPeer()
			c.setState(StateReady, "")
		default:
			return ErrInvalidState
		}
		return c.offer()
	})
}

// HandleMessage queues an inbound signaling message. Messages that do not
// fit the current state are logged and dropped.
func (c *Call) HandleMessage(msg signaling.Message) {
	c.post(func() { c.handleMessage(msg) })
}

// SignalingLost reports that the relay connection is gone. Before the call
// connects this fails it; afterwards media keeps flowing and the user is
// only notified.
func (c *Call) SignalingLost(err error) {
	c.post(func() { c.signalingLost(err) })
}

func (c *Call) signalingLost(err error) {
	if c.signalingDown {
		return
	}
	c.signalingDown = true
	switch {
	case c.state.Terminal():
		return
	case c.state.preConnect():
		c.notice("lost connection to the signaling relay", err)
		c.fail(StateFailed, ReasonSignalingLost)
	default:
		c.notice("lost connection to the signaling relay; the call continues", err)
	}
}

// ToggleMute flips the microphone's enabled flag and reports whether it is
// now muted. The track stays on its sender.
func (c *Call) ToggleMute(ctx context.Context) (muted bool, err error) {
	err = c.do(ctx, func() error {
		if c.audio == nil || c.state.Terminal() {
			c.notice("no microphone to mute", nil)
			return ErrInvalidState
		}
		c.audio.SetEnabled(!c.audio.Enabled())
		muted = !c.audio.Enabled()
		return nil
	})
	return muted, err
}

// ToggleCamera flips the camera's enabled flag and reports whether it is now
// off.
func (c *Call) ToggleCamera(ctx context.Context) (off bool, err error) {
	err = c.do(ctx, func() error {
		if c.camera == nil || c.state.Terminal() {
			c.notice("no camera to turn off", nil)
			return ErrInvalidState
		}
		c.camera.SetEnabled(!c.camera.Enabled())
		off = !c.camera.Enabled()
		return nil
	})
	return off, err
}

// HangUp ends the call and releases every device. It is safe to call more
// than once.
func (c *Call) HangUp(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.teardown()
		c.setState(StateEnded, ReasonHangUp)
		return nil
	})
}

// Close hangs up and stops the event loop. Every later intent returns
// ErrEnded.
func (c *Call) Close() error {
	c.closed.Do(func() {
		c.post(func() {
			c.teardown()
			c.setState(StateEnded, ReasonHangUp)
		})
		c.tasks.close()
		<-c.done
		c.events.close()
	})
	return nil
}

// fail moves to a terminal state and releases everything.
func (c *Call) fail(s State, reason Reason) {
	c.teardown()
	c.setState(s, reason)
}

// teardown closes the peer connection and stops every local track. Tracks
// release their devices at most once, so repeated calls are harmless.
func (c *Call) teardown() {
	c.resetPeer()
	c.pendingOffer = nil
	c.remoteCandidates.reset()
	if c.stream != nil {
		c.stream.Stop()
	}
	c.setPreview(nil)
}
