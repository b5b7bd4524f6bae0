package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingCache struct {
	mu     sync.Mutex
	tables []string
	purges int
}

func (c *recordingCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
}

func (c *recordingCache) purged() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purges
}

func (c *recordingCache) InvalidateTable(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = append(c.tables, table)
	return 1
}

func (c *recordingCache) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tables...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLifecycleTransitions(t *testing.T) {
	var l Lifecycle
	if l.State() != StateUninitialized {
		t.Fatalf("zero value should be uninitialized, got %s", l.State())
	}
	if err := l.Transition(StateSubscribed); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("uninitialized -> subscribed must be rejected, got %v", err)
	}
	if l.State() != StateUninitialized {
		t.Fatal("rejected transition changed state")
	}

	steps := []State{StateConnecting, StateSubscribed, StateError, StateConnecting, StateSubscribed, StateConnecting, StateTornDown, StateConnecting}
	for _, s := range steps {
		if err := l.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if err := l.Transition(StateSubscribed); err != nil {
		t.Fatalf("connecting -> subscribed: %v", err)
	}
	if err := l.Transition(StateTornDown); err != nil {
		t.Fatalf("subscribed -> torn_down: %v", err)
	}
	if err := l.Transition(StateError); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("torn_down -> error must be rejected, got %v", err)
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(`{"table":"prompts","type":"INSERT","record_id":"p1","user_id":"u1","title":"Hi"}`)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Table != TablePrompts || ev.Type != Insert || ev.RecordID != "p1" || ev.Title != "Hi" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, err := ParseEvent(`{"table":""}`); err == nil {
		t.Fatal("expected error for missing table")
	}
	if _, err := ParseEvent(`not json`); err == nil {
		t.Fatal("expected error for bad json")
	}
}

func TestHubSuppressesOwnInserts(t *testing.T) {
	hub := NewHub(4)
	author := hub.Subscribe("u1")
	other := hub.Subscribe("u2")
	defer hub.Unsubscribe(author)
	defer hub.Unsubscribe(other)

	hub.Broadcast(Event{Table: TablePrompts, Type: Insert, RecordID: "p1", UserID: "u1", Title: "Alpha"})

	select {
	case n := <-other.C:
		if n.Toast != "New prompt: Alpha" {
			t.Fatalf("unexpected toast %q", n.Toast)
		}
	default:
		t.Fatal("other user should receive the insert notice")
	}
	select {
	case n := <-author.C:
		t.Fatalf("author should not receive own insert, got %+v", n)
	default:
	}

	hub.Broadcast(Event{Table: TablePrompts, Type: Update, RecordID: "p1", UserID: "u1"})
	select {
	case n := <-author.C:
		if n.Toast != "" {
			t.Fatalf("updates carry no toast, got %q", n.Toast)
		}
	default:
		t.Fatal("author should receive updates")
	}
}

func TestHubDropsForSlowListener(t *testing.T) {
	hub := NewHub(1)
	l := hub.Subscribe("")
	hub.Broadcast(Event{Table: TableLikes, Type: Insert, RecordID: "p1"})
	hub.Broadcast(Event{Table: TableLikes, Type: Insert, RecordID: "p2"})
	if hub.Dropped() != 1 {
		t.Fatalf("expected 1 dropped notice, got %d", hub.Dropped())
	}
	hub.Unsubscribe(l)
	if _, ok := <-l.C; !ok {
		t.Fatal("buffered notice should still be readable")
	}
	if _, ok := <-l.C; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func newTestBridge(src Source, cache Invalidator, hub *Hub) *Bridge {
	return NewBridge(BridgeConfig{
		Source:        src,
		Cache:         cache,
		Hub:           hub,
		Logger:        quietLogger(),
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	})
}

func TestBridgeInvalidatesAndBroadcasts(t *testing.T) {
	src := NewMemorySource()
	cache := &recordingCache{}
	hub := NewHub(8)
	listener := hub.Subscribe("viewer")
	b := newTestBridge(src, cache, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, "subscribed", func() bool { return b.State() == StateSubscribed })

	src.Publish(Event{Table: TableLikes, Type: Insert, RecordID: "p1", UserID: "u9"})

	select {
	case n := <-listener.C:
		if n.Table != TableLikes || n.RecordID != "p1" {
			t.Fatalf("unexpected notice %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notice delivered")
	}
	if got := cache.seen(); len(got) != 1 || got[0] != TableLikes {
		t.Fatalf("expected likes invalidated, got %v", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if b.State() != StateTornDown {
		t.Fatalf("expected torn_down after stop, got %s", b.State())
	}
	if src.Open() != 0 {
		t.Fatalf("subscription left open after stop")
	}
}

func TestBridgeRetriesAndReconnects(t *testing.T) {
	src := NewMemorySource()
	src.FailSubscribes(2)
	b := newTestBridge(src, &recordingCache{}, NewHub(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	waitFor(t, "subscribed after failures", func() bool { return b.State() == StateSubscribed })
	if n := src.Subscribes(); n != 3 {
		t.Fatalf("expected 3 subscribe attempts, got %d", n)
	}

	src.Break(errors.New("connection reset"))
	waitFor(t, "re-subscribed after break", func() bool {
		return src.Subscribes() == 4 && b.State() == StateSubscribed
	})
}

func TestBridgePurgesCacheOnResubscribe(t *testing.T) {
	src := NewMemorySource()
	cache := &recordingCache{}
	b := newTestBridge(src, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	waitFor(t, "subscribed", func() bool { return b.State() == StateSubscribed })
	if n := cache.purged(); n != 0 {
		t.Fatalf("first subscribe purged the cache %d times", n)
	}

	src.FailSubscribes(1)
	src.Break(errors.New("connection reset"))
	// Nobody is listening, so this change is lost.
	src.Publish(Event{Table: TablePrompts, Type: Update, RecordID: "p1"})

	waitFor(t, "re-subscribed after break", func() bool {
		return src.Subscribes() == 3 && b.State() == StateSubscribed
	})
	waitFor(t, "cache purged", func() bool { return cache.purged() == 1 })
}

func TestBridgeRefreshResubscribes(t *testing.T) {
	src := NewMemorySource()
	b := newTestBridge(src, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	waitFor(t, "subscribed", func() bool { return b.State() == StateSubscribed })
	b.Refresh()
	waitFor(t, "re-subscribed after refresh", func() bool {
		return src.Subscribes() == 2 && b.State() == StateSubscribed && src.Open() == 1
	})
}

type fixedSource struct{ sub Subscription }

func (f fixedSource) Subscribe(context.Context) (Subscription, error) { return f.sub, nil }

func TestBridgeSkipsMalformed(t *testing.T) {
	cache := &recordingCache{}
	b := newTestBridge(fixedSource{sub: &blockingAfter{events: []Event{{Table: TablePrompts, Type: Delete, RecordID: "p1"}}, malformedFirst: true}}, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { b.Run(ctx); close(done) }()

	waitFor(t, "event applied", func() bool { return b.Applied() == 1 })
	cancel()
	<-done
	if got := cache.seen(); len(got) != 1 || got[0] != TablePrompts {
		t.Fatalf("unexpected invalidations %v", got)
	}
}

// blockingAfter yields an optional malformed notification, then events, then
// blocks until cancelled.
type blockingAfter struct {
	malformedFirst bool
	events         []Event
}

func (s *blockingAfter) Next(ctx context.Context) (Event, error) {
	if s.malformedFirst {
		s.malformedFirst = false
		return Event{}, ErrMalformed
	}
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	<-ctx.Done()
	return Event{}, ctx.Err()
}

func (s *blockingAfter) Close(context.Context) error { return nil }
