package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/presence"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
)

const presenceTimeout = 2 * time.Second

type HubConfig struct {
	// MaxConnections bounds the total number of registered connections
	// (0 = unlimited).
	MaxConnections int
	// MaxParticipantsPerSession bounds each session (0 = unlimited).
	MaxParticipantsPerSession int
	// NotifyPeerLeft sends {"type":"peer-left"} to the remaining
	// participants when a connection is removed.
	NotifyPeerLeft bool
	// SendQueueBytes is the per-connection outbound budget.
	SendQueueBytes int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxParticipantsPerSession: 2,
		SendQueueBytes:            1 << 20,
	}
}

// Conn is one registered participant connection.
type Conn struct {
	id      string
	session string
	queue   *sendQueue

	removeOnce sync.Once
}

func (c *Conn) ID() string      { return c.id }
func (c *Conn) Session() string { return c.session }

// Next blocks until a message is queued for this connection. It returns
// false once the connection has been removed.
func (c *Conn) Next() (Message, bool) {
	return c.queue.Dequeue()
}

// Dropped reports how many messages could not be queued for c.
func (c *Conn) Dropped() uint64 {
	return c.queue.DropCount()
}

// Hub tracks open connections grouped by session and fans messages out
// between them.
type Hub struct {
	cfg      HubConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	presence presence.Store

	mu       sync.RWMutex
	closed   bool
	total    int
	sessions map[string]map[*Conn]struct{}
}

// NewHub builds a Hub. logger, m and store may be nil.
func NewHub(cfg HubConfig, logger *slog.Logger, m *metrics.Metrics, store presence.Store) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendQueueBytes <= 0 {
		cfg.SendQueueBytes = DefaultHubConfig().SendQueueBytes
	}
	return &Hub{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		presence: store,
		sessions: make(map[string]map[*Conn]struct{}),
	}
}

// Accept registers a new connection in session.
func (h *Hub) Accept(ctx context.Context, session string) (*Conn, error) {
	c := &Conn{
		id:      uuid.NewString(),
		session: session,
		queue:   newSendQueue(h.cfg.SendQueueBytes),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if h.cfg.MaxConnections > 0 && h.total >= h.cfg.MaxConnections {
		h.mu.Unlock()
		h.metrics.Inc(metrics.ConnectionRejectedCapacity)
		return nil, ErrTooManyConnections
	}
	set := h.sessions[session]
	if h.cfg.MaxParticipantsPerSession > 0 && len(set) >= h.cfg.MaxParticipantsPerSession {
		h.mu.Unlock()
		h.metrics.Inc(metrics.ConnectionRejectedSession)
		return nil, ErrSessionFull
	}
	if set == nil {
		set = make(map[*Conn]struct{})
		h.sessions[session] = set
	}
	set[c] = struct{}{}
	h.total++
	h.mu.Unlock()

	h.metrics.Inc(metrics.ConnectionAccepted)
	h.log.Info("participant connected", "conn_id", c.id, "session", session)

	if h.presence != nil {
		pctx, cancel := context.WithTimeout(ctx, presenceTimeout)
		err := h.presence.Join(pctx, session, c.id)
		cancel()
		if err != nil {
			h.metrics.Inc(metrics.PresenceError)
			h.log.Warn("presence join failed", "conn_id", c.id, "session", session, "err", err)
		}
	}
	return c, nil
}

// Broadcast queues msg for every other connection in from's session and
// returns the number of recipients it was queued for. It never blocks on a
// recipient.
func (h *Hub) Broadcast(from *Conn, msg Message) int {
	h.mu.RLock()
	recipients := make([]*Conn, 0, len(h.sessions[from.session]))
	for c := range h.sessions[from.session] {
		if c != from {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	if len(recipients) == 0 {
		h.metrics.Inc(metrics.MessageNoRecipient)
		return 0
	}

	delivered := 0
	for _, c := range recipients {
		switch err := c.queue.Enqueue(msg); {
		case err == nil:
			delivered++
		case errors.Is(err, errQueueClosed):
			// Removed after the snapshot was taken.
			h.metrics.Inc(metrics.DropRecipientGone)
			h.log.Debug("recipient left before delivery",
				"conn_id", c.id, "session", c.session, "from", from.id)
		default:
			h.metrics.Inc(metrics.DropQueueFull)
			h.log.Warn("dropping message for slow participant",
				"conn_id", c.id, "session", c.session, "from", from.id, "bytes", len(msg.Data))
		}
	}
	h.metrics.Add(metrics.MessageDelivered, uint64(delivered))
	return delivered
}

// Remove unregisters c and releases its queue. Calling it more than once is
// a no-op.
func (h *Hub) Remove(c *Conn) {
	c.removeOnce.Do(func() {
		h.mu.Lock()
		if set, ok := h.sessions[c.session]; ok {
			if _, ok := set[c]; ok {
				delete(set, c)
				h.total--
			}
			if len(set) == 0 {
				delete(h.sessions, c.session)
			}
		}
		h.mu.Unlock()

		c.queue.Close()
		h.metrics.Inc(metrics.ConnectionClosed)
		h.log.Info("participant disconnected", "conn_id", c.id, "session", c.session)

		if h.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
			err := h.presence.Leave(ctx, c.session, c.id)
			cancel()
			if err != nil {
				h.metrics.Inc(metrics.PresenceError)
				h.log.Warn("presence leave failed", "conn_id", c.id, "session", c.session, "err", err)
			}
		}

		if h.cfg.NotifyPeerLeft {
			h.notifyPeerLeft(c)
		}
	})
}

func (h *Hub) notifyPeerLeft(c *Conn) {
	data, err := signaling.PeerLeft(c.id).Marshal()
	if err != nil {
		h.log.Error("encode peer-left", "err", err)
		return
	}
	if n := h.Broadcast(c, Message{Data: data}); n > 0 {
		h.metrics.Add(metrics.PeerLeftSent, uint64(n))
	}
}

// Participants returns the ids of the connections currently in session.
func (h *Hub) Participants(session string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.sessions[session]
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c.id)
	}
	return out
}

func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Closing reports whether Close has been called.
func (h *Hub) Closing() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close rejects further Accept calls and removes every connection. Writers
// blocked in Conn.Next observe the removal and close their sockets.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Conn
	for _, set := range h.sessions {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.Remove(c)
	}
}
