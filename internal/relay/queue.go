package relay

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	errQueueFull   = errors.New("send queue full")
	errQueueClosed = errors.New("send queue closed")
)

// Message is one WebSocket payload as it was received.
type Message struct {
	Binary bool
	Data   []byte
}

// sendQueue is a byte-bounded FIFO of outbound messages.
//
// Producers (other participants' read loops) never block on it; the
// connection's writer is the only consumer.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	msgs     []Message

	drops atomic.Uint64
}

func newSendQueue(maxBytes int) *sendQueue {
	q := &sendQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends msg if it fits within the byte budget. It never blocks.
// Only budget overruns count towards DropCount.
func (q *sendQueue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.curBytes+len(msg.Data) > q.maxBytes {
		q.drops.Add(1)
		return errQueueFull
	}

	q.msgs = append(q.msgs, msg)
	q.curBytes += len(msg.Data)
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a message is available or the queue is closed.
// Messages still pending at Close are discarded.
func (q *sendQueue) Dequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.msgs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return Message{}, false
	}
	msg := q.msgs[0]
	q.msgs[0] = Message{}
	q.msgs = q.msgs[1:]
	q.curBytes -= len(msg.Data)
	return msg, true
}

func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.msgs = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
