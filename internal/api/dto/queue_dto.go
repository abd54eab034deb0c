package dto

import (
	"encoding/json"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
)

// PublishRequest enqueues or schedules a message.
// A string payload is stored verbatim; any other JSON value is stored as JSON.
type PublishRequest struct {
	Payload      json.RawMessage   `json:"payload" binding:"required"`
	Metadata     map[string]string `json:"metadata"`
	DelaySeconds float64           `json:"delay_seconds"`
}

// PublishResponse reports where the message went
type PublishResponse struct {
	// ID is the live queue id, or the delayed task id when Delayed is true
	ID        string    `json:"id"`
	Delayed   bool      `json:"delayed"`
	ExecuteAt time.Time `json:"execute_at,omitempty"`
}

// ConsumeRequest claims one message; an empty position claims through the group
type ConsumeRequest struct {
	Position string `json:"position"`
}

// AckRequest acknowledges a claimed message
type AckRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

// NackRequest resolves a message negatively
type NackRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	Retry     bool   `json:"retry"`
}

// ResolveResponse reports whether an ack or nack changed anything
type ResolveResponse struct {
	MessageID string `json:"message_id"`
	Resolved  bool   `json:"resolved"`
}

// CancelResponse reports whether a delayed task was removed
type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// AuditResponse lists messages visited by an audit scan
type AuditResponse struct {
	Count    int               `json:"count"`
	Messages []*domain.Message `json:"messages"`
}

// PendingEntry is a claimed entry awaiting resolution
type PendingEntry struct {
	MessageID  string `json:"message_id"`
	Consumer   string `json:"consumer"`
	IdleMs     int64  `json:"idle_ms"`
	Deliveries int64  `json:"deliveries"`
}

// FromPendingEntries converts store pending entries
func FromPendingEntries(entries []storage.PendingEntry) []PendingEntry {
	out := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PendingEntry{
			MessageID:  e.ID,
			Consumer:   e.Consumer,
			IdleMs:     e.Idle.Milliseconds(),
			Deliveries: e.Deliveries,
		})
	}
	return out
}

// DecodePayload returns the payload to store: JSON strings are unquoted,
// every other JSON value is kept as raw JSON text
func DecodePayload(raw json.RawMessage) (interface{}, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	if !json.Valid(raw) {
		return nil, domain.ErrSerialization
	}
	return raw, nil
}
