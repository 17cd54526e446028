package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/call"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/recorder"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/webrtcpeer"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("call ended with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) error {
	logger = logger.With("participant", cfg.ParticipantID, "session", cfg.Session)

	api, err := webrtcpeer.NewAPI(webrtcpeer.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	// The relay may deliver messages before the call exists.
	var c *call.Call
	callReady := make(chan struct{})
	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.ConnectTimeout)
	sig, err := signaling.Dial(dialCtx, signaling.ClientConfig{
		URL:    cfg.SignalURL(),
		Logger: logger,
	}, func(msg signaling.Message) {
		<-callReady
		if c != nil {
			c.HandleMessage(msg)
		}
	})
	cancelDial()
	if err != nil {
		return err
	}
	defer sig.Close()

	c, err = call.New(call.Config{
		API:           api,
		ICEServers:    cfg.ICEServers,
		Devices:       newDevices(cfg),
		Signaler:      sig,
		ParticipantID: cfg.ParticipantID,
		Logger:        logger,
	})
	close(callReady)
	if err != nil {
		return err
	}
	defer c.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rec *recorder.Recorder
	var pres *presenter
	if cfg.RecordPath != "" {
		rec = recorder.New(logger)
		pres = newPresenter(rec, logger)
	}

	var (
		finalMu sync.Mutex
		final   call.Event
	)
	var shareOnce sync.Once
	c.Subscribe(func(ev call.Event) {
		if pres != nil {
			pres.handle(ev)
		}
		switch ev.Type {
		case call.EventStateChanged:
			if ev.State == call.StateConnected {
				shareOnce.Do(func() { scheduleScreenShare(runCtx, c, cfg, logger) })
			}
			if ev.State.Terminal() {
				finalMu.Lock()
				if final.Type == "" {
					final = ev
				}
				finalMu.Unlock()
				cancel()
			}
		case call.EventPeerJoined:
			logger.Info("peer joined", "peer", ev.Peer)
			if cfg.Role == config.RoleOffer {
				go reoffer(runCtx, c, logger)
			}
		case call.EventPeerLeft:
			logger.Info("peer left", "peer", ev.Peer)
		case call.EventNotice:
			logger.Info("notice", "message", ev.Message, "err", ev.Err)
		}
	})

	go func() {
		select {
		case <-sig.Done():
			c.SignalingLost(sig.Err())
		case <-runCtx.Done():
		}
	}()

	if err := c.Start(runCtx); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	if err := sig.Send(signaling.UserJoined(cfg.ParticipantID)); err != nil {
		c.SignalingLost(err)
	}
	if cfg.Role == config.RoleOffer {
		if err := c.Offer(runCtx); err != nil && !errors.Is(err, call.ErrInvalidState) {
			logger.Warn("offer failed", "err", err)
		}
	}

	if cfg.Duration > 0 {
		timer := time.AfterFunc(cfg.Duration, cancel)
		defer timer.Stop()
	}
	<-runCtx.Done()

	hangCtx, hangCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer hangCancel()
	if err := c.HangUp(hangCtx); err != nil && !errors.Is(err, call.ErrEnded) {
		logger.Warn("hang up failed", "err", err)
	}

	if rec != nil && rec.Recording() {
		if err := saveRecording(rec, cfg.RecordPath, logger); err != nil {
			logger.Error("failed to save recording", "err", err)
		}
	}

	finalMu.Lock()
	defer finalMu.Unlock()
	if final.State == call.StateFailed {
		return fmt.Errorf("call failed: %s", final.Reason)
	}
	return nil
}

func newDevices(cfg config.ClientConfig) media.Devices {
	if cfg.MediaSource == config.MediaFile {
		return media.FileDevices{
			CameraIVF:     cfg.CameraIVF,
			MicrophoneOgg: cfg.MicrophoneOgg,
			ScreenIVF:     cfg.ScreenIVF,
		}
	}
	return &media.SyntheticDevices{}
}

// reoffer sends a fresh offer to a peer that joined after ours went out.
func reoffer(ctx context.Context, c *call.Call, logger *slog.Logger) {
	s, err := c.Snapshot(ctx)
	if err != nil || (s.State != call.StateReady && s.State != call.StateAwaitingAnswer) {
		return
	}
	if err := c.Offer(ctx); err != nil {
		logger.Debug("re-offer skipped", "err", err)
	}
}

func scheduleScreenShare(ctx context.Context, c *call.Call, cfg config.ClientConfig, logger *slog.Logger) {
	if cfg.ScreenShareAfter <= 0 {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ScreenShareAfter):
		}
		if _, err := c.ToggleScreenShare(ctx); err != nil {
			logger.Warn("screen share failed", "err", err)
			return
		}
		if cfg.ScreenShareFor <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ScreenShareFor):
		}
		if s, err := c.Snapshot(ctx); err == nil && s.Sharing {
			if _, err := c.ToggleScreenShare(ctx); err != nil {
				logger.Warn("stop screen share failed", "err", err)
			}
		}
	}()
}

func saveRecording(rec *recorder.Recorder, path string, logger *slog.Logger) error {
	f, err := rec.Stop()
	if err != nil && len(f.Data) == 0 {
		return err
	}
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, f.Name)
	}
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return fmt.Errorf("write recording %s: %w", path, err)
	}
	logger.Info("recording saved", "path", path, "bytes", len(f.Data), "mime", f.MimeType)
	return nil
}
