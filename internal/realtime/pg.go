package realtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CredentialFunc yields the connection string for a new subscription. It is
// called on every (re)connect so rotated credentials are picked up.
type CredentialFunc func(ctx context.Context) (string, error)

func StaticDSN(dsn string) CredentialFunc {
	return func(context.Context) (string, error) { return dsn, nil }
}

// PGSource listens on a Postgres NOTIFY channel over a dedicated pgx connection.
type PGSource struct {
	credentials CredentialFunc
	channel     string
}

func NewPGSource(credentials CredentialFunc) *PGSource {
	return &PGSource{credentials: credentials, channel: Channel}
}

func (s *PGSource) Subscribe(ctx context.Context) (Subscription, error) {
	dsn, err := s.credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve listen credentials: %w", err)
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}
	return &pgSubscription{conn: conn}, nil
}

type pgSubscription struct {
	conn *pgx.Conn
}

func (s *pgSubscription) Next(ctx context.Context) (Event, error) {
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return Event{}, err
	}
	ev, err := ParseEvent(n.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}

func (s *pgSubscription) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
