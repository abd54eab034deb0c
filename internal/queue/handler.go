package queue

import (
	"context"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
)

// Handler processes a delivered message.
// Returning nil marks the message as processed; any error or panic is a
// handler failure and leaves the message for the caller to resolve.
type Handler interface {
	Handle(ctx context.Context, msg *domain.Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *domain.Message) error

// Handle calls f(ctx, msg)
func (f HandlerFunc) Handle(ctx context.Context, msg *domain.Message) error {
	return f(ctx, msg)
}

// invoke runs h and converts an error or panic into a HandlerFailure
func invoke(ctx context.Context, h Handler, msg *domain.Message) (failure *domain.HandlerFailure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &domain.HandlerFailure{MessageID: msg.ID, Panic: r}
		}
	}()

	if err := h.Handle(ctx, msg); err != nil {
		return &domain.HandlerFailure{MessageID: msg.ID, Err: err}
	}
	return nil
}
