package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness and, when known, the realtime subscription state.
func Health(realtimeState func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if realtimeState != nil {
			body["realtime"] = realtimeState()
		}
		c.JSON(http.StatusOK, body)
	}
}
