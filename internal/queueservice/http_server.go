package queueservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/api/dto"
	"github.com/Tinywan/redis-stream-sub000/internal/api/middleware"
	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Queue is the part of queue.Queue the HTTP API serves
type Queue interface {
	Options() queue.Options
	Ping(ctx context.Context) error
	Schedule(ctx context.Context, payload interface{}, metadata map[string]string, delay time.Duration) (string, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
	Consume(ctx context.Context, h queue.Handler, pos queue.Position) (*domain.Message, error)
	Ack(ctx context.Context, id string) (bool, error)
	Nack(ctx context.Context, id string, retry bool) (bool, error)
	Audit(ctx context.Context, h queue.Handler, maxMessages int) (int, error)
	Pending(ctx context.Context, count int64) ([]storage.PendingEntry, error)
	DeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetter, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

var _ Queue = (*queue.Queue)(nil)

// HTTPServer provides HTTP API for the queue service
type HTTPServer struct {
	queue  Queue
	router *gin.Engine
	server *http.Server
	logger *slog.Logger
}

// NewHTTPServer creates a new HTTP server for the queue
func NewHTTPServer(q Queue, port int, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	hs := &HTTPServer{
		queue:  q,
		router: router,
		logger: logger.With("component", "http_server"),
	}

	router.Use(middleware.LoggingMiddleware(hs.logger))
	router.Use(middleware.ErrorHandlerMiddleware(hs.logger))
	router.Use(gin.Recovery())

	// Register routes
	api := router.Group("/api/v1/queue")
	{
		api.POST("/publish", hs.handlePublish)
		api.POST("/consume", hs.handleConsume)
		api.POST("/ack", hs.handleAck)
		api.POST("/nack", hs.handleNack)
		api.DELETE("/delayed/:id", hs.handleCancel)
		api.GET("/stats", hs.handleStats)
		api.GET("/audit", hs.handleAudit)
		api.GET("/pending", hs.handlePending)
		api.GET("/dead-letters", hs.handleDeadLetters)
	}

	router.GET("/health", hs.handleHealth)

	hs.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return hs
}

// Handler returns the router, for tests and embedding
func (hs *HTTPServer) Handler() http.Handler {
	return hs.router
}

// Start starts the HTTP server
func (hs *HTTPServer) Start() error {
	hs.logger.Info("Starting HTTP server", "addr", hs.server.Addr)
	if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (hs *HTTPServer) Shutdown(ctx context.Context) error {
	hs.logger.Info("Shutting down HTTP server")
	return hs.server.Shutdown(ctx)
}

// handlePublish enqueues a message, or schedules it when delay_seconds > 0
func (hs *HTTPServer) handlePublish(c *gin.Context) {
	var req dto.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := dto.DecodePayload(req.Payload)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	delay := time.Duration(req.DelaySeconds * float64(time.Second))
	id, err := hs.queue.Schedule(c.Request.Context(), payload, req.Metadata, delay)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	resp := dto.PublishResponse{ID: id}
	if delay > 0 {
		resp.Delayed = true
		resp.ExecuteAt = time.Now().Add(delay).UTC()
	}
	c.JSON(http.StatusCreated, resp)
}

// handleConsume claims one message without a handler
func (hs *HTTPServer) handleConsume(c *gin.Context) {
	var req dto.ConsumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	pos, err := queue.ParsePosition(req.Position)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := hs.queue.Consume(c.Request.Context(), nil, pos)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// handleAck handles message acknowledgment
func (hs *HTTPServer) handleAck(c *gin.Context) {
	var req dto.AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved, err := hs.queue.Ack(c.Request.Context(), req.MessageID)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, dto.ResolveResponse{MessageID: req.MessageID, Resolved: resolved})
}

// handleNack handles negative acknowledgment
func (hs *HTTPServer) handleNack(c *gin.Context) {
	var req dto.NackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved, err := hs.queue.Nack(c.Request.Context(), req.MessageID, req.Retry)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, dto.ResolveResponse{MessageID: req.MessageID, Resolved: resolved})
}

// handleCancel removes a delayed task that has not been promoted yet
func (hs *HTTPServer) handleCancel(c *gin.Context) {
	taskID := c.Param("id")

	cancelled, err := hs.queue.Cancel(c.Request.Context(), taskID)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	if !cancelled {
		c.JSON(http.StatusNotFound, dto.CancelResponse{TaskID: taskID})
		return
	}

	c.JSON(http.StatusOK, dto.CancelResponse{TaskID: taskID, Cancelled: true})
}

// handleStats returns queue statistics
func (hs *HTTPServer) handleStats(c *gin.Context) {
	stats, err := hs.queue.Stats(c.Request.Context())
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleAudit lists live queue history without changing it
func (hs *HTTPServer) handleAudit(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultAuditLimit)
	if err != nil || limit <= 0 || limit > maxAuditLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxAuditLimit)})
		return
	}

	messages := make([]*domain.Message, 0, limit)
	count, err := hs.queue.Audit(c.Request.Context(), queue.HandlerFunc(func(_ context.Context, msg *domain.Message) error {
		messages = append(messages, msg)
		return nil
	}), limit)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, dto.AuditResponse{Count: count, Messages: messages})
}

// handlePending lists claimed entries
func (hs *HTTPServer) handlePending(c *gin.Context) {
	count, err := queryInt(c, "count", defaultAuditLimit)
	if err != nil || count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
		return
	}

	entries, err := hs.queue.Pending(c.Request.Context(), int64(count))
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, dto.FromPendingEntries(entries))
}

// handleDeadLetters lists archived dead letters
func (hs *HTTPServer) handleDeadLetters(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultAuditLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	letters, err := hs.queue.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	if letters == nil {
		letters = []*domain.DeadLetter{}
	}

	c.JSON(http.StatusOK, letters)
}

// handleHealth returns health status
func (hs *HTTPServer) handleHealth(c *gin.Context) {
	opts := hs.queue.Options()
	if err := hs.queue.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"queue":     opts.Name,
		"group":     opts.Group,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
