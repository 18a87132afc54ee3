// Package eventbus carries fired notifications to in-process consumers
// (status surfaces, test harnesses, the real-time channel bridge).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"gather/internal/event"
)

// Bus is an in-memory fanout of notifications.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels.
//   - Slow subscribers may drop notifications (bounded backpressure).
type Bus interface {
	Publish(n event.Notification)
	Subscribe(buffer int) (ch <-chan event.Notification, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no background
// goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan event.Notification{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan event.Notification
	seq  atomic.Uint64
}

func (b *memBus) Publish(n event.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan event.Notification, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop on a full buffer. If a subscriber
		// unsubscribes concurrently and the channel closes, recover from
		// the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- n:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan event.Notification, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan event.Notification, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
