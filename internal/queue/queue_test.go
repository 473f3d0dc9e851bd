package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInline_RunsHandler(t *testing.T) {
	q := NewInline()
	var got []byte
	q.Register("greet", func(ctx context.Context, task Task) error {
		assert.NoError(t, ctx.Err())
		got = task.Payload
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id, err := q.Enqueue(ctx, Task{Type: "greet", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []byte("hi"), got)
}

func TestInline_Errors(t *testing.T) {
	q := NewInline()
	_, err := q.Enqueue(context.Background(), Task{})
	assert.Error(t, err)

	_, err = q.Enqueue(context.Background(), Task{Type: "missing"})
	assert.ErrorContains(t, err, "no handler")

	boom := errors.New("boom")
	q.Register("fail", func(context.Context, Task) error { return boom })
	_, err = q.Enqueue(context.Background(), Task{Type: "fail"})
	assert.ErrorIs(t, err, boom)
}

func TestInline_RunBlocksUntilCancel(t *testing.T) {
	q := NewInline()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestAsynqOptions(t *testing.T) {
	assert.Len(t, asynqOptions([]EnqueueOption{{Queue: "notifications", MaxRetry: 3, ProcessIn: time.Second}}), 3)
	assert.Empty(t, asynqOptions(nil))

	_, err := NewAsynqClient("not a url")
	assert.Error(t, err)
}
