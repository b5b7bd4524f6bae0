package realtime

import (
	"errors"
	"fmt"
	"sync"
)

// State is a subscription lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateSubscribed
	StateError
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	case StateTornDown:
		return "torn_down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrIllegalTransition = errors.New("illegal subscription state transition")

var transitions = map[State][]State{
	StateUninitialized: {StateConnecting},
	StateConnecting:    {StateSubscribed, StateError, StateTornDown},
	StateSubscribed:    {StateConnecting, StateError, StateTornDown},
	StateError:         {StateConnecting, StateTornDown},
	StateTornDown:      {StateConnecting},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle guards a subscription's state. Safe for concurrent use.
type Lifecycle struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to the given state or returns ErrIllegalTransition,
// leaving the state unchanged.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	from := l.state
	if !CanTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	l.state = to
	hook := l.onChange
	l.mu.Unlock()

	if hook != nil {
		hook(from, to)
	}
	return nil
}
