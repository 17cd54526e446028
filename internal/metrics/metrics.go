package metrics

import "sync"

// Relay event names. Each one becomes an `event` label value on
// call_relay_events_total.
const (
	ConnectionAccepted         = "connection_accepted"
	ConnectionClosed           = "connection_closed"
	ConnectionRejectedCapacity = "connection_rejected_capacity"
	ConnectionRejectedSession  = "connection_rejected_session_full"
	ConnectionRejectedOrigin   = "connection_rejected_origin"

	MessageReceived    = "message_received"
	MessageDelivered   = "message_delivered"
	MessageNoRecipient = "message_no_recipient"
	PeerLeftSent       = "peer_left_sent"

	DropRateLimited = "drop_rate_limited"
	DropOversized   = "drop_oversized"
	DropQueueFull   = "drop_queue_full"
	DropWriteFailed = "drop_write_failed"

	// DropRecipientGone counts messages for a participant that left while
	// the broadcast was in flight.
	DropRecipientGone = "drop_recipient_gone"

	PresenceError = "presence_error"
)

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc and Add are no-ops on a nil receiver so components can run without a
// registry.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
