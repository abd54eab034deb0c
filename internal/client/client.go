package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/api/dto"
	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/queue"
)

// ErrAlreadySubscribed is returned by Subscribe while a poll loop is running
var ErrAlreadySubscribed = errors.New("client already subscribed")

// APIError is a non-2xx answer from the queue service
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("queue service returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps status codes back onto domain errors
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusServiceUnavailable:
		return domain.ErrStoreUnavailable
	case http.StatusBadRequest:
		return domain.ErrInvalidInput
	default:
		return nil
	}
}

// Config configures a Client
type Config struct {
	BaseURL string

	// Timeout bounds each HTTP request
	Timeout time.Duration

	// PollInterval is the pause between empty or failed consume calls
	PollInterval time.Duration
}

// Client talks to the queue service HTTP API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *slog.Logger

	mu  sync.Mutex
	sub *subscription
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client for the service at cfg.BaseURL
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		pollInterval: cfg.PollInterval,
		logger:       logger.With("component", "queue_client"),
	}
}

// Publish enqueues payload, or schedules it when delay > 0.
// Strings are sent verbatim; other values are sent as JSON.
func (c *Client) Publish(ctx context.Context, payload interface{}, metadata map[string]string, delay time.Duration) (*dto.PublishResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}

	req := dto.PublishRequest{
		Payload:      raw,
		Metadata:     metadata,
		DelaySeconds: delay.Seconds(),
	}

	var resp dto.PublishResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/queue/publish", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published", "message_id", resp.ID, "delayed", resp.Delayed)
	return &resp, nil
}

// Consume claims one message through the service's consumer group.
// It returns nil, nil when the queue is empty.
func (c *Client) Consume(ctx context.Context) (*domain.Message, error) {
	var msg domain.Message
	status, err := c.do(ctx, http.MethodPost, "/api/v1/queue/consume", nil, &msg)
	if err != nil {
		return nil, fmt.Errorf("failed to consume message: %w", err)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &msg, nil
}

// Ack acknowledges a claimed message
func (c *Client) Ack(ctx context.Context, messageID string) (bool, error) {
	var resp dto.ResolveResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/queue/ack", dto.AckRequest{MessageID: messageID}, &resp); err != nil {
		return false, fmt.Errorf("failed to ack message: %w", err)
	}

	c.logger.Debug("Message acknowledged", "message_id", messageID)
	return resp.Resolved, nil
}

// Nack negatively acknowledges a message; retry requeues it within the budget
func (c *Client) Nack(ctx context.Context, messageID string, retry bool) (bool, error) {
	var resp dto.ResolveResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/queue/nack", dto.NackRequest{MessageID: messageID, Retry: retry}, &resp); err != nil {
		return false, fmt.Errorf("failed to nack message: %w", err)
	}

	c.logger.Debug("Message nacked", "message_id", messageID, "retry", retry)
	return resp.Resolved, nil
}

// Cancel removes a delayed message that has not been promoted yet
func (c *Client) Cancel(ctx context.Context, taskID string) (bool, error) {
	var resp dto.CancelResponse
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/queue/delayed/"+url.PathEscape(taskID), nil, &resp)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel delayed message: %w", err)
	}
	return resp.Cancelled, nil
}

// Stats returns the queue statistics
func (c *Client) Stats(ctx context.Context) (queue.Stats, error) {
	var stats queue.Stats
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/queue/stats", nil, &stats); err != nil {
		return queue.Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// Audit lists up to limit messages of the live queue history
func (c *Client) Audit(ctx context.Context, limit int) ([]*domain.Message, error) {
	var resp dto.AuditResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/queue/audit?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to audit queue: %w", err)
	}
	return resp.Messages, nil
}

// DeadLetters lists up to limit archived dead letters, newest first
func (c *Client) DeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	var letters []*domain.DeadLetter
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/queue/dead-letters?limit="+strconv.Itoa(limit), nil, &letters); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return letters, nil
}

// Health checks that the service and its store are reachable
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Subscribe polls the service and runs h for every claimed message.
// A nil error acks the message; an error or panic nacks it with retry.
func (c *Client) Subscribe(ctx context.Context, h queue.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		return ErrAlreadySubscribed
	}

	subCtx, cancel := context.WithCancel(ctx)
	c.sub = &subscription{cancel: cancel, done: make(chan struct{})}
	go c.poll(subCtx, h, c.sub.done)

	c.logger.Info("Subscribed", "base_url", c.baseURL, "poll_interval", c.pollInterval)
	return nil
}

// Unsubscribe stops the poll loop and waits for the message in hand
func (c *Client) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}

	sub.cancel()
	select {
	case <-sub.done:
		c.logger.Info("Unsubscribed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) poll(ctx context.Context, h queue.Handler, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		msg, err := c.Consume(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Failed to fetch message", "error", err)
			}
			c.wait(ctx)
			continue
		}
		if msg == nil {
			c.wait(ctx)
			continue
		}

		// Resolve the message even if the subscription was cancelled meanwhile
		resolveCtx := context.WithoutCancel(ctx)
		if err := handle(ctx, h, msg); err != nil {
			c.logger.Warn("Handler error", "message_id", msg.ID, "attempts", msg.Attempts, "error", err)
			if _, nackErr := c.Nack(resolveCtx, msg.ID, true); nackErr != nil {
				c.logger.Error("Failed to nack message", "message_id", msg.ID, "error", nackErr)
			}
			continue
		}
		if _, ackErr := c.Ack(resolveCtx, msg.ID); ackErr != nil {
			c.logger.Error("Failed to ack message", "message_id", msg.ID, "error", ackErr)
		}
	}
}

func (c *Client) wait(ctx context.Context) {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func handle(ctx context.Context, h queue.Handler, msg *domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.HandlerFailure{MessageID: msg.ID, Panic: r}
		}
	}()
	return h.Handle(ctx, msg)
}

// do sends body as JSON and decodes a 2xx response into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
