package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	// MaxSessionIDLength bounds the ?session= query value.
	MaxSessionIDLength = 128
)

type ServerConfig struct {
	// DefaultSession is used when the request carries no ?session=.
	DefaultSession string
	Origins        origin.Policy

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// WebSocketServer serves GET /signal and feeds every connection into a Hub.
type WebSocketServer struct {
	hub      *Hub
	cfg      ServerConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewWebSocketServer(hub *Hub, cfg ServerConfig, logger *slog.Logger, m *metrics.Metrics) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultSession == "" {
		cfg.DefaultSession = "lobby"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}

	s := &WebSocketServer{
		hub:     hub,
		cfg:     cfg,
		log:     logger,
		metrics: m,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Origins.Check(r) {
				return true
			}
			m.Inc(metrics.ConnectionRejectedOrigin)
			logger.Warn("rejected signaling origin", "origin", r.Header.Get("Origin"), "host", r.Host)
			return false
		},
	}
	return s
}

func (s *WebSocketServer) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /signal", s)
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := strings.TrimSpace(r.URL.Query().Get("session"))
	if session == "" {
		session = s.cfg.DefaultSession
	}
	if len(session) > MaxSessionIDLength {
		http.Error(w, "session id too long", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	c, err := s.hub.Accept(r.Context(), session)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionFull):
			writeClose(ws, websocket.ClosePolicyViolation, "session full")
		case errors.Is(err, ErrTooManyConnections):
			writeClose(ws, websocket.CloseTryAgainLater, "too many connections")
		default:
			writeClose(ws, websocket.CloseGoingAway, "relay shutting down")
		}
		s.log.Info("rejected participant", "session", session, "err", err)
		return
	}

	var wg sync.WaitGroup
	stopPing := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ws, c)
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(ws, stopPing)
	}()

	s.readLoop(ws, c)

	s.hub.Remove(c)
	close(stopPing)
	wg.Wait()
}

func (s *WebSocketServer) readLoop(ws *websocket.Conn, c *Conn) {
	var limiter *ratelimit.TokenBucket
	if n := int64(s.cfg.MaxMessagesPerSecond); n > 0 {
		limiter = ratelimit.NewTokenBucket(ratelimit.RealClock{}, n, n)
	}

	refresh := func() {
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	refresh()
	ws.SetPongHandler(func(string) error {
		refresh()
		return nil
	})

	for {
		msgType, r, err := ws.NextReader()
		if err != nil {
			if isTimeout(err) {
				writeClose(ws, websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}

		data, err := readLimited(r, s.cfg.MaxMessageBytes)
		if err != nil {
			if !errors.Is(err, errMessageTooLarge) {
				return
			}
			s.metrics.Inc(metrics.DropOversized)
			s.log.Warn("dropping oversized message", "conn_id", c.id, "session", c.session)
			refresh()
			continue
		}
		refresh()

		if limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropRateLimited)
			s.log.Debug("dropping rate limited message", "conn_id", c.id, "session", c.session)
			continue
		}

		s.metrics.Inc(metrics.MessageReceived)
		s.hub.Broadcast(c, Message{Binary: msgType == websocket.BinaryMessage, Data: data})
	}
}

func (s *WebSocketServer) writeLoop(ws *websocket.Conn, c *Conn) {
	for {
		msg, ok := c.Next()
		if !ok {
			if s.hub.Closing() {
				writeClose(ws, websocket.CloseGoingAway, "relay shutting down")
			}
			// Unblocks the read loop when the hub dropped c first.
			_ = ws.Close()
			return
		}
		msgType := websocket.TextMessage
		if msg.Binary {
			msgType = websocket.BinaryMessage
		}
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteMessage(msgType, msg.Data); err != nil {
			s.metrics.Inc(metrics.DropWriteFailed)
			s.log.Warn("write to participant failed", "conn_id", c.id, "session", c.session, "err", err)
			// Unblocks the read loop, which removes c from the hub.
			_ = ws.Close()
			return
		}
	}
}

func (s *WebSocketServer) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeClose(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

// readLimited reads one message of at most max bytes. An oversized message
// is drained so the connection stays usable.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, errMessageTooLarge
	}
	return data, nil
}
