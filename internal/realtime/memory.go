package realtime

import (
	"context"
	"errors"
	"sync"
)

// MemorySource delivers events published in-process. It backs the memory
// store and tests; FailSubscribes and Break simulate an unreliable backend.
type MemorySource struct {
	mu         sync.Mutex
	subs       map[*memorySubscription]struct{}
	failures   int
	subscribes int
}

func NewMemorySource() *MemorySource {
	return &MemorySource{subs: map[*memorySubscription]struct{}{}}
}

// Publish fans ev out to every open subscription. Full buffers drop the event.
func (m *MemorySource) Publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

func (m *MemorySource) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("memory source unavailable")
	}
	sub := &memorySubscription{
		source: m,
		events: make(chan Event, 256),
		broken: make(chan error, 1),
		done:   make(chan struct{}),
	}
	m.subs[sub] = struct{}{}
	return sub, nil
}

// FailSubscribes makes the next n Subscribe calls fail.
func (m *MemorySource) FailSubscribes(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

// Break fails every open subscription with err, as a dropped connection would.
func (m *MemorySource) Break(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub.broken <- err:
		default:
		}
		delete(m.subs, sub)
	}
}

// Subscribes reports how many Subscribe calls were made.
func (m *MemorySource) Subscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes
}

// Open reports how many subscriptions are currently attached.
func (m *MemorySource) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type memorySubscription struct {
	source *MemorySource
	events chan Event
	broken chan error
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.done:
		return Event{}, ErrClosed
	case err := <-s.broken:
		return Event{}, err
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *memorySubscription) Close(context.Context) error {
	s.once.Do(func() {
		s.source.mu.Lock()
		delete(s.source.subs, s)
		s.source.mu.Unlock()
		close(s.done)
	})
	return nil
}
