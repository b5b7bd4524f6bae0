package realtime

import (
	"context"
	"errors"
)

var (
	// ErrMalformed marks a notification whose payload could not be decoded.
	// The subscription stays usable.
	ErrMalformed = errors.New("malformed change notification")
	ErrClosed    = errors.New("subscription closed")
)

// Source opens subscriptions to the change stream.
type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

type Subscription interface {
	// Next blocks until the next event, ctx is done or the subscription breaks.
	Next(ctx context.Context) (Event, error)
	Close(ctx context.Context) error
}
