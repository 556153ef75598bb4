package handler

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/stream"
)

// StreamHandler exposes the stream registry to the presentation layer:
// subscription commands over REST and live snapshots over a websocket.
type StreamHandler struct {
	registry     *stream.Registry
	logger       *zap.Logger
	pushInterval time.Duration
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	handles map[string]*stream.Handle
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(registry *stream.Registry, pushInterval time.Duration, logger *zap.Logger) *StreamHandler {
	if pushInterval <= 0 {
		pushInterval = time.Second
	}
	return &StreamHandler{
		registry:     registry,
		logger:       logger,
		pushInterval: pushInterval,
		upgrader:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		handles:      make(map[string]*stream.Handle),
	}
}

type subscribeRequest struct {
	Kind model.ChannelKind `json:"kind" binding:"required,channelkind"`
	Key  string            `json:"key" binding:"required"`
}

type toggleRequest struct {
	Kind    model.ChannelKind `json:"kind" binding:"required,channelkind"`
	Key     string            `json:"key" binding:"required"`
	Enabled *bool             `json:"enabled" binding:"required"`
}

// Subscribe creates or joins a channel and returns a subscription token
func (h *StreamHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, err := h.registry.Subscribe(req.Kind, req.Key, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := uuid.NewString()
	h.mu.Lock()
	h.handles[token] = handle
	h.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{
		"subscription": token,
		"kind":         req.Kind,
		"key":          req.Key,
		"status":       h.registry.Status(req.Kind, req.Key),
	})
}

// Unsubscribe releases a subscription token
func (h *StreamHandler) Unsubscribe(c *gin.Context) {
	token := c.Param("token")

	h.mu.Lock()
	handle, ok := h.handles[token]
	delete(h.handles, token)
	h.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown subscription"})
		return
	}

	h.registry.Unsubscribe(handle)
	c.JSON(http.StatusOK, gin.H{"subscription": token})
}

// Status reports a channel's connection status
func (h *StreamHandler) Status(c *gin.Context) {
	kind := model.ChannelKind(c.Query("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel kind"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":   kind,
		"key":    c.Query("key"),
		"status": h.registry.Status(kind, c.Query("key")),
	})
}

// Snapshot returns the read model for one channel
func (h *StreamHandler) Snapshot(c *gin.Context) {
	kind := model.ChannelKind(c.Query("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel kind"})
		return
	}
	snap, err := h.registry.Snapshot(kind, c.Query("key"))
	if err != nil {
		h.respondChannelError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListChannels returns snapshots for every live channel
func (h *StreamHandler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.registry.Snapshots()})
}

// Clear drops a channel's buffer
func (h *StreamHandler) Clear(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.Clear(req.Kind, req.Key); err != nil {
		h.respondChannelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "key": req.Key})
}

// Toggle enables or disables event forwarding on a channel
func (h *StreamHandler) Toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetEnabled(req.Kind, req.Key, *req.Enabled); err != nil {
		h.respondChannelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "key": req.Key, "enabled": *req.Enabled})
}

// Overflows drains pending buffer-saturation notices so the UI can
// flag potential event loss
func (h *StreamHandler) Overflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"overflows": h.registry.Overflows()})
}

// PushSnapshots upgrades to a websocket and pushes all channel
// snapshots on a fixed cadence until the client goes away
func (h *StreamHandler) PushSnapshots(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(gin.H{"channels": h.registry.Snapshots()}); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) respondChannelError(c *gin.Context, err error) {
	if errors.Is(err, model.ErrChannelNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	}
	h.logger.Error("Channel operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Operation failed"})
}
