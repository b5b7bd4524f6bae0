package handlers

import (
	"io"
	"net/http"
	"time"

	"promptory/internal/middleware"
	"promptory/internal/realtime"

	"github.com/gin-gonic/gin"
)

const keepAlive = 25 * time.Second

type EventsHandler struct {
	hub *realtime.Hub
}

func NewEventsHandler(hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream pushes change notices to the browser as server-sent events until the
// client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	l := h.hub.Subscribe(middleware.CurrentIdentity(c).UserID)
	defer h.hub.Unsubscribe(l)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-l.C:
			if !ok {
				return false
			}
			c.SSEvent("change", n)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
