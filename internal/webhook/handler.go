package webhook

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/calls"
	"github.com/sagar-j-gurav/whatsapp-calling/pkg/logger"
)

// EventSink consumes normalized call events.
type EventSink interface {
	HandleEvent(ctx context.Context, ev calls.Event) error
}

// Handler terminates the provider webhook.
//
// Delivery contract: the provider retries aggressively on anything but a
// success status, so Receive acknowledges every parseable request and logs
// per-event failures instead of surfacing them. Only subscription
// verification is allowed to reject.
type Handler struct {
	VerifyToken string
	Sink        EventSink
}

// Verify answers the provider's subscription handshake.
func (h Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token == "" || token != h.VerifyToken {
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive ingests call notifications.
func (h Handler) Receive(c *gin.Context) {
	log := logger.FromGin(c)

	var payload Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn("webhook payload parse failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	events, skipped := payload.Events()
	for _, msg := range skipped {
		log.Warn("webhook notification skipped", "reason", msg)
	}

	for _, ev := range events {
		if err := h.Sink.HandleEvent(c.Request.Context(), ev); err != nil {
			log.Error("call event processing failed", "kind", ev.Kind, "call_id", ev.CallID, "err", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
