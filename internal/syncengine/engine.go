// Package syncengine keeps a client's view of one conversation consistent
// with the server. REST responses and realtime events are merged through
// idempotent, order-insensitive rules so duplicates and reordering converge
// to the same state.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrStale is returned when the open conversation changed while a
	// request was in flight; its result was discarded.
	ErrStale = errors.New("syncengine: conversation changed")
	// ErrNotOpen is returned by operations that need an open conversation.
	ErrNotOpen = errors.New("syncengine: no conversation open")
)

// API is the subset of the REST client the engine uses.
type API interface {
	GetConversation(ctx context.Context, id int64) (models.Conversation, error)
	SendMessage(ctx context.Context, conversationID int64, content string, attachments []Attachment) (models.Message, error)
	UpdateMessage(ctx context.Context, id int64, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, conversationID int64) error
	SetTyping(ctx context.Context, conversationID int64, isTyping bool) error
}

// Channel manages presence channel subscriptions.
type Channel interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
}

type Options struct {
	// UserID is the signed-in user; their own typing events are ignored.
	UserID int64
	// DisableOptimistic skips pending placeholders on send.
	DisableOptimistic bool
	TypingTTL         time.Duration
	Logger            *slog.Logger
	// OnChange is called outside the engine lock after every state change.
	OnChange func(Snapshot)
	Now      func() time.Time
}

// Snapshot is a copy of the open conversation's state.
type Snapshot struct {
	Conversation models.Conversation
	Messages     []LocalMessage
	Typing       []int64
	Online       []models.Member
}

type Engine struct {
	api  API
	ch   Channel
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	gen   uint64
	conv  models.Conversation
	state *State

	// typingTimer fires at the next peer typing expiry.
	typingTimer *time.Timer
}

func New(api API, ch Channel, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{api: api, ch: ch, opts: opts, log: opts.Logger.With("component", "syncengine")}
}

func (e *Engine) newState(id int64) *State {
	s := NewState(id)
	s.typingTTL = e.opts.TypingTTL
	s.now = e.opts.Now
	return s
}

// Open switches to conversation id: it subscribes to its channel, loads the
// latest page and merges it. Events for the previous conversation are
// ignored from this point on.
func (e *Engine) Open(ctx context.Context, id int64) (Snapshot, error) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	prev := e.conv.ID
	e.conv = models.Conversation{ID: id}
	e.state = e.newState(id)
	e.stopTypingLocked()
	e.mu.Unlock()

	if prev != 0 && prev != id {
		if err := e.ch.Unsubscribe(models.ChannelName(prev)); err != nil {
			e.log.Warn("unsubscribe", "conversation_id", prev, "err", err)
		}
	}
	if err := e.ch.Subscribe(models.ChannelName(id)); err != nil {
		e.log.Warn("subscribe", "conversation_id", id, "err", err)
	}

	conv, err := e.api.GetConversation(ctx, id)
	if err != nil {
		e.mu.Lock()
		current := e.gen == gen
		if current {
			e.conv, e.state = models.Conversation{}, nil
		}
		e.mu.Unlock()
		if current {
			if uerr := e.ch.Unsubscribe(models.ChannelName(id)); uerr != nil {
				e.log.Warn("unsubscribe", "conversation_id", id, "err", uerr)
			}
		}
		return Snapshot{}, err
	}
	return e.merge(gen, 0, conv)
}

// merge applies a fetched conversation. mark is the state's arrival mark
// taken when the fetch started.
func (e *Engine) merge(gen, mark uint64, conv models.Conversation) (Snapshot, error) {
	e.mu.Lock()
	if e.gen != gen || e.state == nil || e.state.ConversationID != conv.ID {
		e.mu.Unlock()
		return Snapshot{}, ErrStale
	}
	e.state.ApplySnapshot(mark, conv.Messages, conv.Participants)
	conv.Messages = nil
	e.conv = conv
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.changed(snap)
	return snap, nil
}

// Resync reloads the open conversation after a reconnect.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	gen, id := e.gen, e.conv.ID
	var mark uint64
	if e.state != nil {
		mark = e.state.Mark()
	}
	e.mu.Unlock()
	if id == 0 {
		return nil
	}
	conv, err := e.api.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	_, err = e.merge(gen, mark, conv)
	if errors.Is(err, ErrStale) {
		return nil
	}
	return err
}

// Close leaves the open conversation.
func (e *Engine) Close() {
	e.mu.Lock()
	e.gen++
	id := e.conv.ID
	e.conv, e.state = models.Conversation{}, nil
	e.stopTypingLocked()
	e.mu.Unlock()

	if id != 0 {
		if err := e.ch.Unsubscribe(models.ChannelName(id)); err != nil {
			e.log.Warn("unsubscribe", "conversation_id", id, "err", err)
		}
	}
}

// HandleFrame applies one realtime frame. Frames for other channels are
// ignored.
func (e *Engine) HandleFrame(f models.Frame) {
	e.mu.Lock()
	if e.state == nil || f.Channel != models.ChannelName(e.state.ConversationID) {
		e.mu.Unlock()
		return
	}
	changed, err := e.apply(f)
	if f.Event == models.EventUserTyping {
		e.watchTypingLocked()
	}
	var snap Snapshot
	if changed {
		snap = e.snapshotLocked()
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("bad frame", "event", f.Event, "channel", f.Channel, "err", err)
	}
	if changed {
		e.changed(snap)
	}
}

func (e *Engine) apply(f models.Frame) (bool, error) {
	s := e.state
	switch f.Event {
	case models.EventMessageSent:
		var m models.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return false, err
		}
		return s.ApplyMessageCreated(m), nil

	case models.EventMessageUpdated:
		var m models.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return false, err
		}
		return s.ApplyMessageUpdated(m), nil

	case models.EventMessageDeleted:
		var d models.MessageDeleted
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return false, err
		}
		return s.ApplyMessageDeleted(d.Message.ID), nil

	case models.EventConversationRead:
		var p models.Participant
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return false, err
		}
		return s.ApplyConversationRead(p), nil

	case models.EventUserTyping:
		var t models.UserTyping
		if err := json.Unmarshal(f.Data, &t); err != nil {
			return false, err
		}
		if t.UserID == e.opts.UserID || t.ConversationID != s.ConversationID {
			return false, nil
		}
		return s.ApplyTyping(t.UserID, t.IsTyping), nil

	case models.FrameSubscriptionSucceeded:
		var ok models.SubscriptionSucceeded
		if err := json.Unmarshal(f.Data, &ok); err != nil {
			return false, err
		}
		s.ApplyRoster(ok.Members)
		return true, nil

	case models.FrameMemberAdded, models.FrameMemberRemoved:
		var m models.Member
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return false, err
		}
		if f.Event == models.FrameMemberAdded {
			return s.ApplyMemberAdded(m), nil
		}
		return s.ApplyMemberRemoved(m), nil

	case models.FrameSubscriptionError:
		var d models.ErrorData
		_ = json.Unmarshal(f.Data, &d)
		return false, errors.New("subscription refused: " + d.Message)
	}
	return false, nil
}

// watchTypingLocked arms the typing timer for the earliest expiry so the
// lapse is reported through OnChange.
func (e *Engine) watchTypingLocked() {
	e.stopTypingLocked()
	next, ok := e.state.NextTypingExpiry()
	if !ok {
		return
	}
	gen := e.gen
	e.typingTimer = time.AfterFunc(max(next.Sub(e.opts.Now()), 0), func() { e.expireTyping(gen) })
}

func (e *Engine) stopTypingLocked() {
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
}

func (e *Engine) expireTyping(gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.state == nil {
		e.mu.Unlock()
		return
	}
	expired := e.state.ExpireTyping()
	e.watchTypingLocked()
	var snap Snapshot
	if expired {
		snap = e.snapshotLocked()
	}
	e.mu.Unlock()

	if expired {
		e.changed(snap)
	}
}

// open returns the current generation and conversation id.
func (e *Engine) open() (uint64, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, 0, ErrNotOpen
	}
	return e.gen, e.state.ConversationID, nil
}

// update runs fn against the state if gen is still current.
func (e *Engine) update(gen uint64, fn func(s *State)) {
	e.mu.Lock()
	if e.gen != gen || e.state == nil {
		e.mu.Unlock()
		return
	}
	fn(e.state)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
}

// SendMessage posts a message to the open conversation. Unless optimistic
// sending is disabled a pending placeholder is shown until the server
// answers; it is replaced by the stored message or removed on failure.
func (e *Engine) SendMessage(ctx context.Context, content string, attachments []Attachment) (models.Message, error) {
	gen, id, err := e.open()
	if err != nil {
		return models.Message{}, err
	}

	var clientID string
	if !e.opts.DisableOptimistic {
		clientID = uuid.NewString()
		e.update(gen, func(s *State) { s.AddPending(clientID, e.opts.UserID, content, e.opts.Now().UTC()) })
	}

	m, err := e.api.SendMessage(ctx, id, content, attachments)
	e.update(gen, func(s *State) {
		if err != nil {
			s.ResolvePending(clientID, nil)
			return
		}
		s.ResolvePending(clientID, &m)
	})
	return m, err
}

// UpdateMessage edits a message and merges the server's copy.
func (e *Engine) UpdateMessage(ctx context.Context, messageID int64, content string) (models.Message, error) {
	gen, _, err := e.open()
	if err != nil {
		return models.Message{}, err
	}
	m, err := e.api.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return m, err
	}
	e.update(gen, func(s *State) { s.ApplyMessageUpdated(m) })
	return m, nil
}

// DeleteMessage deletes a message and applies the removal locally.
func (e *Engine) DeleteMessage(ctx context.Context, messageID int64) error {
	gen, _, err := e.open()
	if err != nil {
		return err
	}
	if err := e.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	e.update(gen, func(s *State) { s.ApplyMessageDeleted(messageID) })
	return nil
}

// MarkRead marks the open conversation read. Read markers change only when
// the resulting ConversationRead event arrives.
func (e *Engine) MarkRead(ctx context.Context) error {
	_, id, err := e.open()
	if err != nil {
		return err
	}
	return e.api.MarkRead(ctx, id)
}

// SetTyping tells the server whether the user is typing. Failures are logged.
func (e *Engine) SetTyping(ctx context.Context, isTyping bool) {
	_, id, err := e.open()
	if err != nil {
		return
	}
	if err := e.api.SetTyping(ctx, id, isTyping); err != nil {
		e.log.Debug("typing", "conversation_id", id, "err", err)
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	if e.state == nil {
		return Snapshot{}
	}
	return Snapshot{
		Conversation: e.conv,
		Messages:     e.state.Messages(),
		Typing:       e.state.Typing(),
		Online:       e.state.Online(),
	}
}

func (e *Engine) changed(s Snapshot) {
	if e.opts.OnChange != nil {
		e.opts.OnChange(s)
	}
}
