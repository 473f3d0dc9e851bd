package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Inline runs each task synchronously on Enqueue. It is used when no Redis
// is configured and in tests.
type Inline struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

var (
	_ Client = (*Inline)(nil)
	_ Server = (*Inline)(nil)
)

func NewInline() *Inline {
	return &Inline{handlers: make(map[string]Handler)}
}

func (q *Inline) Register(taskType string, h Handler) {
	q.mu.Lock()
	q.handlers[taskType] = h
	q.mu.Unlock()
}

// Enqueue runs the handler detached from ctx cancellation; options are ignored.
func (q *Inline) Enqueue(ctx context.Context, t Task, _ ...EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("queue: task type is required")
	}
	q.mu.RLock()
	h, ok := q.handlers[t.Type]
	q.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("queue: no handler for %q", t.Type)
	}
	if err := h(context.WithoutCancel(ctx), t); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (q *Inline) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (q *Inline) Close() error { return nil }
