package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	connected func() bool
	driver    string
}

func NewHealthHandler(connected func() bool, driver string) *HealthHandler {
	return &HealthHandler{connected: connected, driver: driver}
}

// Health reports degraded with 503 while the broker link is down. Job
// creation still answers in that state, it just fails jobs fast.
func (h *HealthHandler) Health(c *gin.Context) {
	broker := "connected"
	status := "ok"
	code := http.StatusOK
	if !h.connected() {
		broker = "disconnected"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"broker": gin.H{"driver": h.driver, "state": broker},
	})
}
