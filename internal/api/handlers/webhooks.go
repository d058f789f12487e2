package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/webhook"
)

type WebhookTargets interface {
	Targets() []webhook.TargetInfo
	SendTest(index int) error
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookHandler exposes the configured webhook targets to administrators.
// Targets come from the config file and are read only here.
type WebhookHandler struct {
	sender WebhookTargets
	logger logrus.FieldLogger
}

func NewWebhookHandler(sender WebhookTargets, logger logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{sender: sender, logger: logger}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"webhooks": h.sender.Targets()})
}

// TestWebhook sends a test event to one target and reports the outcome. A
// delivery failure is a 200 with success=false.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook index"})
		return
	}

	err = h.sender.SendTest(index)
	switch {
	case errors.Is(err, webhook.ErrUnknownTarget):
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
	case err != nil:
		h.logger.WithError(err).WithField("index", index).Warn("webhook test failed")
		c.JSON(http.StatusOK, TestWebhookResponse{Message: fmt.Sprintf("Failed to send webhook: %v", err)})
	default:
		c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "Webhook test successful"})
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks/:index/test", h.TestWebhook)
}
