package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tinywan/redis-stream-sub000/pkg/utils"
)

// DelayedTask is a message snapshot waiting in the delayed task store.
// It is stored as a JSON member of a sorted set scored by ExecuteTime.
type DelayedTask struct {
	ID           string            `json:"id"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata"`
	ExecuteTime  float64           `json:"execute_time"`
	DelaySeconds float64           `json:"delay_seconds"`
	CreatedAt    float64           `json:"created_at"`
	Attempts     int               `json:"attempts"`
	Status       Status            `json:"status"`

	// raw is the exact stored member, required for exclusive removal
	raw string
}

// NewDelayedTask builds a task due delay after now
func NewDelayedTask(id, payload string, metadata map[string]string, now time.Time, delay time.Duration) *DelayedTask {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &DelayedTask{
		ID:           id,
		Message:      payload,
		Metadata:     metadata,
		ExecuteTime:  utils.UnixSeconds(now.Add(delay)),
		DelaySeconds: delay.Seconds(),
		CreatedAt:    utils.UnixSeconds(now),
		Attempts:     0,
		Status:       StatusDelayed,
	}
}

// Encode serializes the task and remembers the result as its stored member
func (t *DelayedTask) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	t.raw = string(data)
	return t.raw, nil
}

// Raw returns the stored member this task was decoded from or encoded to
func (t *DelayedTask) Raw() string {
	return t.raw
}

// ExecuteAt returns the due time
func (t *DelayedTask) ExecuteAt() time.Time {
	return utils.FromUnixSeconds(t.ExecuteTime)
}

// Promoted converts the task into a fresh live-queue message.
// Delay-only fields are dropped and attempts restart at zero.
func (t *DelayedTask) Promoted(now time.Time) *Message {
	metadata := make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		metadata[k] = v
	}
	transferred := now
	return &Message{
		Payload:       t.Message,
		Metadata:      metadata,
		Attempts:      0,
		Status:        StatusPending,
		Timestamp:     utils.FromUnixSeconds(t.CreatedAt),
		TransferredAt: &transferred,
	}
}

// DecodeDelayedTask parses a stored member
func DecodeDelayedTask(raw string) (*DelayedTask, error) {
	var task DelayedTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("%w: malformed delayed task: %v", ErrSerialization, err)
	}
	if task.ID == "" {
		return nil, fmt.Errorf("%w: delayed task without id", ErrSerialization)
	}
	task.raw = raw
	return &task, nil
}
