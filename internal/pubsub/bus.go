// Package pubsub fans job progress events out to subscribers.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels; slow subscribers may drop events.
//   - No replay: a late subscriber misses everything published before it
//     joined.
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/jdc-telecom/smsgw/internal/bulk"
)

const defaultBuffer = 16

// Bus is an in-memory fanout keyed by job id.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan bulk.Event
	seq  atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: map[string]map[uint64]chan bulk.Event{}}
}

// Publish delivers ev to every current subscriber of jobID without blocking.
func (b *Bus) Publish(jobID string, ev bulk.Event) {
	// Snapshot subscribers so we never hold the lock while sending.
	b.mu.RLock()
	chs := make([]chan bulk.Event, 0, len(b.subs[jobID]))
	for _, ch := range b.subs[jobID] {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// If a subscriber unsubscribes concurrently the channel may close
		// under us; recover from the send panic in that case.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- ev:
			default:
			}
		}()
	}
}

// Subscribe registers an observer for one job and returns its event channel
// plus an idempotent unsubscribe func. Unsubscribing closes the channel and
// never affects the job itself.
func (b *Bus) Subscribe(jobID string, buffer int) (<-chan bulk.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan bulk.Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[uint64]chan bulk.Event{}
	}
	b.subs[jobID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], id)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers reports how many observers a job currently has.
func (b *Bus) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
