package media

import (
	"sync"

	"github.com/pion/rtp"
)

// fanout delivers packets to a changing set of subscribers.
type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]func(*rtp.Packet)
}

func (f *fanout) subscribe(fn func(*rtp.Packet)) func() {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[int]func(*rtp.Packet))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

func (f *fanout) publish(pkt *rtp.Packet) {
	f.mu.Lock()
	if len(f.subs) == 0 {
		f.mu.Unlock()
		return
	}
	subs := make([]func(*rtp.Packet), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(pkt.Clone())
	}
}
