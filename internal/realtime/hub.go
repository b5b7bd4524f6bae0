package realtime

import (
	"sync"
	"sync/atomic"
)

// Notice is what an event stream subscriber receives for one change.
type Notice struct {
	Table    string `json:"table"`
	Type     string `json:"type"`
	RecordID string `json:"record_id"`
	UserID   string `json:"user_id,omitempty"`
	// Toast is set for changes worth surfacing to people, such as a new prompt.
	Toast string `json:"toast,omitempty"`
}

func noticeFor(ev Event) Notice {
	n := Notice{Table: ev.Table, Type: ev.Type, RecordID: ev.RecordID, UserID: ev.UserID}
	if ev.Table == TablePrompts && ev.Type == Insert {
		n.Toast = "New prompt: " + ev.Title
	}
	return n
}

// Listener is one attached event stream.
type Listener struct {
	C      <-chan Notice
	ch     chan Notice
	userID string
}

// Hub fans notices out to listeners. A listener that falls behind loses
// notices instead of stalling the bridge.
type Hub struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	buffer    int
	dropped   atomic.Uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{listeners: map[*Listener]struct{}{}, buffer: buffer}
}

// Subscribe attaches a listener for userID ("" for anonymous viewers).
func (h *Hub) Subscribe(userID string) *Listener {
	ch := make(chan Notice, h.buffer)
	l := &Listener{C: ch, ch: ch, userID: userID}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	return l
}

func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[l]; ok {
		delete(h.listeners, l)
		close(l.ch)
	}
}

// Broadcast delivers ev to every listener, except that an INSERT is not echoed
// back to the user who made it.
func (h *Hub) Broadcast(ev Event) {
	n := noticeFor(ev)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		if ev.Type == Insert && ev.UserID != "" && l.userID == ev.UserID {
			continue
		}
		select {
		case l.ch <- n:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Dropped counts notices lost to full listener buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
