package domain

import "time"

// Reasons recorded when a message is dropped
const (
	ReasonRetryExhausted = "retry_exhausted"
	ReasonRejected       = "rejected"
)

// DeadLetter is the archived form of a message that reached StatusDead
type DeadLetter struct {
	MessageID string            `json:"message_id" bson:"message_id"`
	Queue     string            `json:"queue" bson:"queue"`
	Payload   string            `json:"message" bson:"message"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Attempts  int               `json:"attempts" bson:"attempts"`
	Reason    string            `json:"reason" bson:"reason"`
	DiedAt    time.Time         `json:"died_at" bson:"died_at"`
}

// NewDeadLetter captures msg as it is dropped
func NewDeadLetter(queue string, msg *Message, reason string, at time.Time) *DeadLetter {
	return &DeadLetter{
		MessageID: msg.ID,
		Queue:     queue,
		Payload:   msg.Payload,
		Metadata:  msg.Metadata,
		Attempts:  msg.Attempts,
		Reason:    reason,
		DiedAt:    at,
	}
}
