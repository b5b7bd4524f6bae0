package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
)

// Invalidator drops cached query results that read from a table, or all of
// them when changes may have been missed.
type Invalidator interface {
	InvalidateTable(table string) int
	Purge()
}

type BridgeConfig struct {
	Source Source
	Cache  Invalidator
	Hub    *Hub
	Logger *slog.Logger
	// RetryDelay and MaxRetryDelay bound the backoff between reconnects.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Bridge turns change notifications into cache invalidation and hub notices.
type Bridge struct {
	source     Source
	cache      Invalidator
	hub        *Hub
	logger     *slog.Logger
	retryDelay time.Duration
	maxDelay   time.Duration

	lifecycle Lifecycle
	refresh   chan struct{}
	applied   atomic.Uint64
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	b := &Bridge{
		source:     cfg.Source,
		cache:      cfg.Cache,
		hub:        cfg.Hub,
		logger:     cfg.Logger,
		retryDelay: cfg.RetryDelay,
		maxDelay:   cfg.MaxRetryDelay,
		refresh:    make(chan struct{}, 1),
	}
	b.lifecycle.onChange = func(from, to State) {
		b.logger.Debug("realtime state", "from", from.String(), "to", to.String())
	}
	return b
}

func (b *Bridge) State() State {
	return b.lifecycle.State()
}

// Applied counts events processed since start.
func (b *Bridge) Applied() uint64 {
	return b.applied.Load()
}

// Refresh tears the current subscription down and re-establishes it with
// freshly resolved credentials.
func (b *Bridge) Refresh() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

// Run keeps a subscription alive until ctx is done, then tears it down.
func (b *Bridge) Run(ctx context.Context) error {
	for resubscribe := false; ; resubscribe = true {
		sub, err := b.connect(ctx)
		if err != nil {
			b.teardown()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// Changes made while unsubscribed were never seen.
		if resubscribe && b.cache != nil {
			b.cache.Purge()
			b.logger.Info("query cache purged after resubscribe")
		}

		refreshed, err := b.consume(ctx, sub)
		if cerr := sub.Close(context.Background()); cerr != nil {
			b.logger.Warn("close subscription", "error", cerr)
		}

		switch {
		case ctx.Err() != nil:
			b.teardown()
			return nil
		case refreshed:
			b.logger.Info("refreshing realtime subscription")
			b.teardown()
		default:
			b.logger.Warn("realtime subscription lost", "error", err)
			if terr := b.lifecycle.Transition(StateError); terr != nil {
				return terr
			}
		}
	}
}

func (b *Bridge) connect(ctx context.Context) (Subscription, error) {
	var sub Subscription
	err := retry.Do(
		func() error {
			if err := b.lifecycle.Transition(StateConnecting); err != nil {
				return retry.Unrecoverable(err)
			}
			s, err := b.source.Subscribe(ctx)
			if err != nil {
				if terr := b.lifecycle.Transition(StateError); terr != nil {
					return retry.Unrecoverable(terr)
				}
				return err
			}
			if err := b.lifecycle.Transition(StateSubscribed); err != nil {
				s.Close(ctx)
				return retry.Unrecoverable(err)
			}
			sub = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(b.retryDelay),
		retry.MaxDelay(b.maxDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Warn("realtime subscribe failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	b.logger.Info("realtime subscribed")
	return sub, nil
}

func (b *Bridge) consume(ctx context.Context, sub Subscription) (bool, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var refreshed atomic.Bool
	go func() {
		select {
		case <-b.refresh:
			refreshed.Store(true)
			cancel()
		case <-subCtx.Done():
		}
	}()

	for {
		ev, err := sub.Next(subCtx)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				b.logger.Warn("skip change notification", "error", err)
				continue
			}
			return refreshed.Load(), err
		}
		b.apply(ev)
	}
}

func (b *Bridge) apply(ev Event) {
	dropped := 0
	if b.cache != nil {
		dropped = b.cache.InvalidateTable(ev.Table)
	}
	if b.hub != nil {
		b.hub.Broadcast(ev)
	}
	b.applied.Add(1)
	b.logger.Debug("change applied", "table", ev.Table, "type", ev.Type, "record", ev.RecordID, "invalidated", dropped)
}

func (b *Bridge) teardown() {
	if b.lifecycle.State() == StateTornDown {
		return
	}
	if err := b.lifecycle.Transition(StateTornDown); err != nil {
		b.logger.Debug("teardown", "error", err)
	}
}
