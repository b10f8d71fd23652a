package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nisekogame/backend/cache"
	"github.com/nisekogame/backend/game/coop"
	mw "github.com/nisekogame/backend/middleware"
	"go.uber.org/zap"
)

// Handler streams accepted cooperative scores to leaderboard screens.
type Handler struct {
	pubsub    cache.PubSub
	keepalive time.Duration
	logger    *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	return &Handler{
		pubsub:    pubsub,
		keepalive: 30 * time.Second,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Shutdown ends every open stream and makes new ones return at once.
// Register it with http.Server.RegisterOnShutdown.
func (h *Handler) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
}

// ServeSSE handles GET /events.
// Every accepted cooperative submission is sent as a "coop_score" event whose
// data is the submission result JSON.
func (h *Handler) ServeSSE(c *gin.Context) {
	ctx := c.Request.Context()
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, coop.ScoreChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed",
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable", "kind": mw.KindStoreUnavailable})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Channel, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-ctx.Done():
			return

		case <-h.done:
			return
		}
	}
}
