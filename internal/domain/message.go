package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Tinywan/redis-stream-sub000/pkg/utils"
)

// Status is the lifecycle state of a message
type Status string

const (
	// StatusPending means the message sits in the live queue, undelivered
	StatusPending Status = "pending"
	// StatusDelayed means the message waits in the delayed task store
	StatusDelayed Status = "delayed"
	// StatusDelivered means a consumer claimed the message and has not resolved it
	StatusDelivered Status = "delivered"
	// StatusAcked means the message was acknowledged and left pending bookkeeping
	StatusAcked Status = "acked"
	// StatusDead means the retry budget was exhausted and the message was removed
	StatusDead Status = "dead"
)

// Record field names written by the queue itself
const (
	FieldMessage       = "message"
	FieldTimestamp     = "timestamp"
	FieldAttempts      = "attempts"
	FieldStatus        = "status"
	FieldExecuteTime   = "execute_time"
	FieldDelaySeconds  = "delay_seconds"
	FieldTransferredAt = "transferred_at"
)

var reservedFields = map[string]struct{}{
	FieldMessage:       {},
	FieldTimestamp:     {},
	FieldAttempts:      {},
	FieldStatus:        {},
	FieldExecuteTime:   {},
	FieldDelaySeconds:  {},
	FieldTransferredAt: {},
}

// IsReserved reports whether key is owned by the queue record layout
func IsReserved(key string) bool {
	_, ok := reservedFields[key]
	return ok
}

// ValidateMetadata rejects metadata keys that collide with reserved fields
func ValidateMetadata(metadata map[string]string) error {
	for key := range metadata {
		if IsReserved(key) {
			return fmt.Errorf("%w: %q", ErrReservedField, key)
		}
	}
	return nil
}

// Message is a live-queue entry as seen by consumers
type Message struct {
	// ID is the stream id assigned on enqueue
	ID string `json:"id"`

	// Payload is the stored message body. Non-string producer inputs are JSON-encoded.
	Payload string `json:"message"`

	// Metadata holds caller-supplied fields merged into the record
	Metadata map[string]string `json:"metadata,omitempty"`

	// Attempts counts deliveries since the last enqueue into the live queue
	Attempts int `json:"attempts"`

	Status Status `json:"status"`

	// Timestamp is when the message was produced
	Timestamp time.Time `json:"timestamp"`

	// TransferredAt is set when the message was promoted from the delayed store
	TransferredAt *time.Time `json:"transferred_at,omitempty"`

	// Failure is set when the handler given to Consume did not succeed
	Failure *HandlerFailure `json:"-"`
}

// Unmarshal decodes a JSON payload into v
func (m *Message) Unmarshal(v interface{}) error {
	if err := json.Unmarshal([]byte(m.Payload), v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return nil
}

// Fields renders the message as a flat live-queue record
func (m *Message) Fields() map[string]string {
	fields := make(map[string]string, len(m.Metadata)+5)
	for k, v := range m.Metadata {
		fields[k] = v
	}
	fields[FieldMessage] = m.Payload
	fields[FieldTimestamp] = utils.FormatUnix(m.Timestamp)
	fields[FieldAttempts] = strconv.Itoa(m.Attempts)
	fields[FieldStatus] = string(m.Status)
	if m.TransferredAt != nil {
		fields[FieldTransferredAt] = utils.FormatUnix(*m.TransferredAt)
	}
	return fields
}

// EncodePayload turns a producer value into the stored payload string.
// Strings and byte slices are stored verbatim, everything else as JSON.
func EncodePayload(payload interface{}) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(data), nil
}

// ParseMessage rebuilds a message from a stored record.
// A record without a message field is malformed and yields ErrNoMessage.
func ParseMessage(id string, fields map[string]string) (*Message, error) {
	payload, ok := fields[FieldMessage]
	if !ok {
		return nil, fmt.Errorf("%w: entry %s has no %s field", ErrNoMessage, id, FieldMessage)
	}

	msg := &Message{
		ID:       id,
		Payload:  payload,
		Metadata: make(map[string]string),
		Status:   StatusPending,
	}

	for k, v := range fields {
		switch k {
		case FieldMessage:
		case FieldTimestamp:
			if ts, err := utils.ParseUnix(v); err == nil {
				msg.Timestamp = ts
			}
		case FieldAttempts:
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				msg.Attempts = n
			}
		case FieldStatus:
			msg.Status = Status(v)
		case FieldTransferredAt:
			if ts, err := utils.ParseUnix(v); err == nil {
				msg.TransferredAt = &ts
			}
		case FieldExecuteTime, FieldDelaySeconds:
			// delay-only fields never belong to a live record
		default:
			msg.Metadata[k] = v
		}
	}

	return msg, nil
}

// SortedKeys returns the record keys in a stable order
func SortedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
