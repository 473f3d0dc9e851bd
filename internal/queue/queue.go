// Package queue runs background tasks either through asynq (Redis) or
// inline in the calling goroutine.
package queue

import (
	"context"
	"time"
)

// Task is a background job: a stable type name and an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks the backend to retry, so
// handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption is applied best-effort; zero values mean unspecified.
type EnqueueOption struct {
	Queue     string
	ProcessIn time.Duration
	MaxRetry  int
}

type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server blocks in Run until ctx is cancelled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}
