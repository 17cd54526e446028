package call

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

func (c *Call) send(msg signaling.Message) error {
	if c.signalingDown {
		return ErrSignalingUnavailable
	}
	if err := c.cfg.Signaler.Send(msg); err != nil {
		c.signalingLost(err)
		return fmt.Errorf("%w: %v", ErrSignalingUnavailable, err)
	}
	return nil
}

func (c *Call) handleMessage(msg signaling.Message) {
	if c.id != "" && msg.From == c.id {
		return
	}
	if err := msg.Validate(); err != nil {
		c.log.Warn("dropping invalid signaling message", "err", err)
		return
	}
	switch msg.Type {
	case signaling.TypeOffer:
		c.handleOffer(msg)
	case signaling.TypeAnswer:
		c.handleAnswer(msg)
	case signaling.TypeCandidate:
		c.handleCandidate(msg)
	case signaling.TypeUserJoined:
		c.emit(Event{Type: EventPeerJoined, Peer: msg.From})
	case signaling.TypePeerLeft:
		c.emit(Event{Type: EventPeerLeft, Peer: msg.From})
	default:
		c.log.Debug("ignoring signaling message", "type", msg.Type)
	}
}

func (c *Call) handleOffer(msg signaling.Message) {
	switch c.state {
	case StateIdle, StateAcquiringMedia:
		// Answered once media is ready. A newer offer replaces an older one.
		c.pendingOffer = &msg
	case StateReady:
		_ = c.answer(msg)
	case StateAwaitingAnswer:
		if c.id != "" && msg.From != "" && c.id > msg.From {
			c.log.Info("offer glare; keeping our offer", "peer", msg.From)
			return
		}
		c.log.Info("offer glare; answering the remote offer", "peer", msg.From)
		c.resetPeer()
		_ = c.answer(msg)
	case StateConnecting, StateConnected:
		c.log.Info("remote restarted negotiation", "peer", msg.From)
		c.resetPeer()
		_ = c.answer(msg)
	default:
		c.log.Debug("dropping offer", "state", c.state)
	}
}

func (c *Call) handleAnswer(msg signaling.Message) {
	if c.state != StateAwaitingAnswer {
		c.log.Debug("dropping answer", "state", c.state)
		return
	}
	desc, err := msg.Answer.ToPion()
	if err != nil {
		c.log.Warn("dropping malformed answer", "err", err)
		return
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		c.notice("could not apply the remote answer", err)
		return
	}
	c.setState(StateConnecting, "")
	c.applyRemoteCandidates()
}

func (c *Call) handleCandidate(msg signaling.Message) {
	if c.state.Terminal() {
		return
	}
	init := msg.Candidate.ToPion()
	if c.remoteCandidates.add(init) {
		c.addRemoteCandidate(init)
	}
}

func (c *Call) applyRemoteCandidates() {
	for _, init := range c.remoteCandidates.release() {
		c.addRemoteCandidate(init)
	}
}

func (c *Call) addRemoteCandidate(init webrtc.ICECandidateInit) {
	if err := c.pc.AddICECandidate(init); err != nil {
		c.log.Warn("dropping remote candidate", "err", err)
	}
}

func (c *Call) sendLocalCandidates() {
	for _, init := range c.localCandidates.release() {
		if err := c.send(signaling.CandidateMessage(init, c.id)); err != nil {
			return
		}
	}
}

func (c *Call) offer() error {
	if err := c.ensurePeerConnection(); err != nil {
		c.notice("could not create the peer connection", err)
		return err
	}
	c.setState(StateOffering, "")

	desc, err := c.pc.CreateOffer(nil)
	if err == nil {
		err = c.pc.SetLocalDescription(desc)
	}
	if err != nil {
		c.notice("could not create an offer", err)
		c.resetPeer()
		c.setState(StateReady, "")
		return err
	}
	if err := c.send(signaling.Offer(desc, c.id)); err != nil {
		return err
	}
	c.sendLocalCandidates()
	if c.state == StateOffering {
		c.setState(StateAwaitingAnswer, "")
	}
	return nil
}

func (c *Call) answer(msg signaling.Message) error {
	remote, err := msg.Offer.ToPion()
	if err != nil {
		c.log.Warn("dropping malformed offer", "err", err)
		return err
	}
	if err := c.ensurePeerConnection(); err != nil {
		c.notice("could not create the peer connection", err)
		return err
	}
	c.setState(StateAnswering, "")

	if err := c.pc.SetRemoteDescription(remote); err != nil {
		c.notice("could not apply the remote offer", err)
		c.resetPeer()
		c.setState(StateReady, "")
		return err
	}
	c.applyRemoteCandidates()

	desc, err := c.pc.CreateAnswer(nil)
	if err == nil {
		err = c.pc.SetLocalDescription(desc)
	}
	if err != nil {
		c.notice("could not create an answer", err)
		c.resetPeer()
		c.setState(StateReady, "")
		return err
	}
	if err := c.send(signaling.Answer(desc, c.id)); err != nil {
		return err
	}
	c.sendLocalCandidates()
	if c.state == StateAnswering {
		c.setState(StateConnecting, "")
	}
	return nil
}

// ensurePeerConnection creates the peer connection and attaches local media.
// Without a camera a send-receive video transceiver is still added so that a
// screen can be shared later without renegotiating.
func (c *Call) ensurePeerConnection() error {
	if c.pc != nil {
		return nil
	}
	pc, err := c.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	if err := c.attachMedia(pc); err != nil {
		_ = pc.Close()
		c.videoSender, c.audioSender = nil, nil
		return err
	}

	gen := c.generation
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.post(func() {
			if gen != c.generation {
				return
			}
			if c.localCandidates.add(init) {
				_ = c.send(signaling.CandidateMessage(init, c.id))
			}
		})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.post(func() {
			if gen == c.generation {
				c.iceStateChanged(s)
			}
		})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		feed := media.NewRemoteFeed(track, func() {
			_ = pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
		})
		feed.Start()
		c.post(func() {
			if gen != c.generation {
				return
			}
			c.log.Debug("remote track", "kind", track.Kind(), "codec", track.Codec().MimeType)
			c.remoteFeeds = append(c.remoteFeeds, feed)
			c.emit(Event{Type: EventRemoteTrack, Remote: feed})
		})
	})

	c.pc = pc
	return nil
}

func (c *Call) attachMedia(pc *webrtc.PeerConnection) error {
	if c.camera != nil {
		sender, err := pc.AddTrack(c.camera.Local())
		if err != nil {
			return fmt.Errorf("add camera track: %w", err)
		}
		c.videoSender = sender
	} else {
		tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
		c.videoSender = tr.Sender()
	}
	go drainRTCP(c.videoSender)

	if c.audio != nil {
		sender, err := pc.AddTrack(c.audio.Local())
		if err != nil {
			return fmt.Errorf("add microphone track: %w", err)
		}
		c.audioSender = sender
		go drainRTCP(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	return nil
}

// drainRTCP reads incoming RTCP so the interceptors see receiver reports.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Call) iceStateChanged(s webrtc.ICEConnectionState) {
	c.log.Debug("ice connection state", "state", s.String())
	if c.state.Terminal() {
		return
	}
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if c.state == StateConnecting {
			c.setState(StateConnected, "")
		}
	case webrtc.ICEConnectionStateFailed:
		c.notice("the connection to the other participant failed", nil)
		c.fail(StateFailed, ReasonICEFailed)
	case webrtc.ICEConnectionStateDisconnected:
		c.notice("the other participant disconnected", nil)
		c.fail(StateDisconnected, ReasonICEDisconnect)
	case webrtc.ICEConnectionStateClosed:
		c.fail(StateDisconnected, ReasonTransportClose)
	}
}

// resetPeer closes the peer connection but keeps local media, for a new
// negotiation or a final teardown.
func (c *Call) resetPeer() {
	c.stopScreenShare(false)
	c.generation++
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			c.log.Debug("close peer connection", "err", err)
		}
		c.pc = nil
	}
	c.videoSender, c.audioSender = nil, nil
	c.remoteFeeds = nil
	c.remoteCandidates.hold()
	c.localCandidates.reset()
}
