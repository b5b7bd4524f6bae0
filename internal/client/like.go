package client

import (
	"context"
	"fmt"
	"sync"

	"promptory/internal/services"
)

// Notifier surfaces a short message to the person driving the client.
type Notifier interface {
	Notify(msg string)
}

type NotifierFunc func(msg string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

// LikeState is the locally displayed like state of one prompt or collection.
// Toggle updates it optimistically and reconciles with the server.
type LikeState struct {
	mu     sync.Mutex
	liked  bool
	count  int
	toggle func(ctx context.Context) (*services.LikeResult, error)
	notify Notifier
}

func NewPromptLike(c *Client, promptID string, liked bool, count int, n Notifier) *LikeState {
	return newLikeState(liked, count, n, func(ctx context.Context) (*services.LikeResult, error) {
		return c.TogglePromptLike(ctx, promptID)
	})
}

func NewCollectionLike(c *Client, collectionID string, liked bool, count int, n Notifier) *LikeState {
	return newLikeState(liked, count, n, func(ctx context.Context) (*services.LikeResult, error) {
		return c.ToggleCollectionLike(ctx, collectionID)
	})
}

func newLikeState(liked bool, count int, n Notifier, toggle func(context.Context) (*services.LikeResult, error)) *LikeState {
	if n == nil {
		n = NotifierFunc(func(string) {})
	}
	return &LikeState{liked: liked, count: count, toggle: toggle, notify: n}
}

// State returns what should currently be displayed.
func (s *LikeState) State() (liked bool, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liked, s.count
}

// Toggle flips the displayed state at once, then calls the server. The server
// answer replaces the displayed state; a failure restores the state from
// before this call and notifies.
func (s *LikeState) Toggle(ctx context.Context) error {
	s.mu.Lock()
	prevLiked, prevCount := s.liked, s.count
	s.liked = !s.liked
	if s.liked {
		s.count++
	} else if s.count > 0 {
		s.count--
	}
	s.mu.Unlock()

	res, err := s.toggle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.liked, s.count = prevLiked, prevCount
		s.notify.Notify(fmt.Sprintf("Could not update like: %s", message(err)))
		return err
	}
	s.liked, s.count = res.Liked, res.LikeCount
	return nil
}

func message(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Message
	}
	return err.Error()
}
