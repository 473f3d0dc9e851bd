package syncengine

import (
	"sync"
	"time"
)

// DefaultTypingIdle is how long after the last keystroke typing stops.
const DefaultTypingIdle = 2 * time.Second

// Typer debounces keystrokes into typing signals: the first keystroke emits
// true, and Idle without another keystroke emits false.
type Typer struct {
	Idle time.Duration

	mu     sync.Mutex
	emit   func(isTyping bool)
	typing bool
	seq    uint64
	timer  *time.Timer
}

func NewTyper(emit func(isTyping bool)) *Typer {
	return &Typer{Idle: DefaultTypingIdle, emit: emit}
}

// Keystroke records activity.
func (t *Typer) Keystroke() {
	t.mu.Lock()
	t.seq++
	seq := t.seq
	start := !t.typing
	t.typing = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.Idle, func() { t.expire(seq) })
	t.mu.Unlock()

	if start {
		t.emit(true)
	}
}

func (t *Typer) expire(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.mu.Unlock()
	t.emit(false)
}

// Stop ends typing now, for example when the message is sent.
func (t *Typer) Stop() {
	t.mu.Lock()
	t.seq++
	was := t.typing
	t.typing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if was {
		t.emit(false)
	}
}
