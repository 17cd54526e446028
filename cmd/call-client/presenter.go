package main

import (
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/call"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/recorder"
)

// presenter keeps the recording on the main presenter: the remote video once
// it arrives, otherwise whatever the local preview shows.
type presenter struct {
	rec *recorder.Recorder
	log *slog.Logger

	mu      sync.Mutex
	remote  media.Feed
	local   media.Feed
	current media.Feed
}

func newPresenter(rec *recorder.Recorder, logger *slog.Logger) *presenter {
	return &presenter{rec: rec, log: logger}
}

func (p *presenter) handle(ev call.Event) {
	switch ev.Type {
	case call.EventRemoteTrack:
		if ev.Remote.Kind() == media.KindVideo {
			p.setRemote(ev.Remote)
		}
	case call.EventPreviewChanged:
		if ev.Preview == nil {
			p.setLocal(nil)
		} else {
			p.setLocal(ev.Preview)
		}
	}
}

func (p *presenter) setRemote(f media.Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = f
	p.update()
}

func (p *presenter) setLocal(f media.Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = f
	p.update()
}

// must hold p.mu
func (p *presenter) update() {
	next := p.remote
	if next == nil {
		next = p.local
	}
	if next == nil || next == p.current {
		return
	}

	var err error
	if p.rec.Recording() {
		err = p.rec.Follow(next)
	} else {
		err = p.rec.Start(next)
	}
	if err != nil {
		p.log.Warn("recording cannot follow presenter", "feed", next.ID(), "err", err)
		return
	}
	p.current = next
}

func (p *presenter) following() media.Feed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
