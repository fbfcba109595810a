package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler, runners and notifier.
const (
	TypeJobStarted   = "job.started"
	TypeJobFinished  = "job.finished"
	TypeJobFailed    = "job.failed"
	TypePayScheduled = "pay.scheduled"
	TypePayFinished  = "pay.finished"
	TypeConfigReload = "config.reloaded"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and JSON-serializable; it backs the /events endpoint.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Recent returns up to the last n published events, oldest first.
	Recent(n int) []Event
}

const defaultKeep = 100

// New returns an in-memory fanout bus that remembers the last keep events.
// It does not own any background goroutines.
func New(keep int) Bus {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &memBus{subs: map[uint64]chan Event{}, keep: keep}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	rmu    sync.Mutex
	keep   int
	recent []Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.rmu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.keep {
		b.recent = b.recent[len(b.recent)-b.keep:]
	}
	b.rmu.Unlock()

	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Drop on slow subscribers. A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
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
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) Recent(n int) []Event {
	b.rmu.Lock()
	defer b.rmu.Unlock()
	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	return append([]Event(nil), b.recent[len(b.recent)-n:]...)
}
