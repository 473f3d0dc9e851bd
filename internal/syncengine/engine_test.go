package syncengine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu     sync.Mutex
	convs  map[int64]models.Conversation
	gates  map[int64]chan struct{}
	typing []bool

	// blocked counts fetches that reached a gate.
	blocked atomic.Int32

	sendHook func()
	sendResp models.Message
	sendErr  error
	deleted  []int64
	readIDs  []int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{convs: map[int64]models.Conversation{}, gates: map[int64]chan struct{}{}}
}

func (f *fakeAPI) GetConversation(ctx context.Context, id int64) (models.Conversation, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.mu.Unlock()
	if gate != nil {
		f.blocked.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Conversation{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return c, &APIError{Status: 404, Message: "Not Found"}
	}
	return c, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _ int64, _ string, _ []Attachment) (models.Message, error) {
	if f.sendHook != nil {
		f.sendHook()
	}
	return f.sendResp, f.sendErr
}

func (f *fakeAPI) UpdateMessage(_ context.Context, id int64, content string) (models.Message, error) {
	m := msg(id, 42, 7, 10, content)
	m.UpdatedAt = at(99)
	return m, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) MarkRead(_ context.Context, id int64) error {
	f.readIDs = append(f.readIDs, id)
	return nil
}

func (f *fakeAPI) SetTyping(_ context.Context, _ int64, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
	return nil
}

type fakeChannel struct {
	mu   sync.Mutex
	subs []string
}

func (c *fakeChannel) Subscribe(ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, "+"+ch)
	return nil
}

func (c *fakeChannel) Unsubscribe(ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, "-"+ch)
	return nil
}

func frame(t *testing.T, event string, conv int64, data any) models.Frame {
	t.Helper()
	f, err := models.NewFrame(event, models.ChannelName(conv), data)
	require.NoError(t, err)
	return f
}

func newEngine(api API, ch Channel) *Engine {
	return New(api, ch, Options{UserID: 7, Now: func() time.Time { return at(100) }})
}

func TestEngine_SendToConversation42(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42, Type: models.TypeGroup}
	ch := &fakeChannel{}
	e := newEngine(api, ch)

	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"+chat.conversation.42"}, ch.subs)

	sent := msg(101, 42, 7, 100, "hello")
	api.sendResp = sent
	m, err := e.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(101), m.ID)

	e.HandleFrame(frame(t, models.EventMessageSent, 42, sent))

	list := e.Snapshot().Messages
	require.Len(t, list, 1)
	assert.Equal(t, int64(101), list[0].ID)
	assert.Equal(t, "hello", *list[0].Content)
	assert.False(t, list[0].Pending)
}

func TestEngine_EchoBeforeResponse(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42}
	e := newEngine(api, &fakeChannel{})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)

	sent := msg(101, 42, 7, 100, "hello")
	var during []LocalMessage
	api.sendResp = sent
	api.sendHook = func() {
		e.HandleFrame(frame(t, models.EventMessageSent, 42, sent))
		during = e.Snapshot().Messages
	}

	_, err = e.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)

	require.Len(t, during, 2, "echo plus the pending placeholder")
	assert.True(t, during[1].Pending)
	assert.Equal(t, []int64{101}, ids(e.Snapshot().Messages))
}

func TestEngine_SendFailureRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42}
	e := newEngine(api, &fakeChannel{})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)

	api.sendErr = &APIError{Status: 422, Fields: []FieldError{{Field: "Content", Tag: "required_without"}}}
	_, err = e.SendMessage(context.Background(), "", nil)
	assert.Equal(t, ValidationFailed, KindOf(err))
	assert.Empty(t, e.Snapshot().Messages)
}

func TestEngine_DisableOptimistic(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42}
	e := New(api, &fakeChannel{}, Options{UserID: 7, DisableOptimistic: true})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)

	var during int
	api.sendResp = msg(101, 42, 7, 100, "hello")
	api.sendHook = func() { during = len(e.Snapshot().Messages) }
	_, err = e.SendMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Zero(t, during)
	assert.Len(t, e.Snapshot().Messages, 1)
}

func TestEngine_StaleConversationGuard(t *testing.T) {
	api := newFakeAPI()
	api.convs[1] = models.Conversation{ID: 1, Messages: []models.Message{msg(10, 1, 8, 1, "from A")}}
	api.convs[2] = models.Conversation{ID: 2, Messages: []models.Message{msg(20, 2, 8, 2, "from B")}}
	gate := make(chan struct{})
	api.gates[1] = gate
	ch := &fakeChannel{}
	e := newEngine(api, ch)

	errA := make(chan error, 1)
	go func() {
		_, err := e.Open(context.Background(), 1)
		errA <- err
	}()
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.subs) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := e.Open(context.Background(), 2)
	require.NoError(t, err)
	close(gate)

	assert.ErrorIs(t, <-errA, ErrStale)
	snap := e.Snapshot()
	assert.Equal(t, int64(2), snap.Conversation.ID)
	assert.Equal(t, []int64{20}, ids(snap.Messages))

	e.HandleFrame(frame(t, models.EventMessageSent, 1, msg(11, 1, 8, 3, "late A event")))
	assert.Equal(t, []int64{20}, ids(e.Snapshot().Messages))
	assert.Equal(t, []string{"+chat.conversation.1", "-chat.conversation.1", "+chat.conversation.2"}, ch.subs)
}

func TestEngine_OpenNotFound(t *testing.T) {
	ch := &fakeChannel{}
	e := newEngine(newFakeAPI(), ch)
	_, err := e.Open(context.Background(), 9)
	assert.Equal(t, NotFound, KindOf(err))
	assert.Equal(t, []string{"+chat.conversation.9", "-chat.conversation.9"}, ch.subs)

	_, err = e.SendMessage(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestEngine_EventsMerge(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42, Messages: []models.Message{msg(1, 42, 7, 10, "a"), msg(2, 42, 8, 20, "b")}}
	var changes int
	e := New(api, &fakeChannel{}, Options{UserID: 7, OnChange: func(Snapshot) { changes++ }})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)
	changes = 0

	del := models.MessageDeleted{Message: msg(2, 42, 8, 20, "b"), ConversationID: 42}
	e.HandleFrame(frame(t, models.EventMessageDeleted, 42, del))
	e.HandleFrame(frame(t, models.EventMessageDeleted, 42, del))
	assert.Equal(t, []int64{1}, ids(e.Snapshot().Messages))
	assert.Equal(t, 1, changes)

	e.HandleFrame(frame(t, models.EventConversationRead, 42, readEvent(42, 7, 15)))
	require.NotNil(t, e.Snapshot().Messages[0].ReadAt)

	e.HandleFrame(frame(t, models.EventUserTyping, 42, models.UserTyping{ConversationID: 42, UserID: 7, IsTyping: true}))
	assert.Empty(t, e.Snapshot().Typing, "own typing is ignored")
	e.HandleFrame(frame(t, models.EventUserTyping, 42, models.UserTyping{ConversationID: 42, UserID: 8, IsTyping: true}))
	assert.Equal(t, []int64{8}, e.Snapshot().Typing)

	e.HandleFrame(frame(t, models.FrameSubscriptionSucceeded, 42, models.SubscriptionSucceeded{Members: []models.Member{{ID: 7, Name: "Me"}}}))
	e.HandleFrame(frame(t, models.FrameMemberAdded, 42, models.Member{ID: 8, Name: "Bob"}))
	assert.Len(t, e.Snapshot().Online, 2)
	e.HandleFrame(frame(t, models.FrameMemberRemoved, 42, models.Member{ID: 8, Name: "Bob"}))
	assert.Len(t, e.Snapshot().Online, 1)

	e.HandleFrame(models.Frame{Event: models.EventMessageSent, Channel: models.ChannelName(42), Data: json.RawMessage(`{`)})
	assert.Len(t, e.Snapshot().Messages, 1)
}

func TestEngine_RESTMutations(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42, Messages: []models.Message{msg(1, 42, 7, 10, "a"), msg(2, 42, 7, 20, "b")}}
	e := newEngine(api, &fakeChannel{})
	ctx := context.Background()
	_, err := e.Open(ctx, 42)
	require.NoError(t, err)

	_, err = e.UpdateMessage(ctx, 1, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", *e.Snapshot().Messages[0].Content)

	require.NoError(t, e.DeleteMessage(ctx, 2))
	e.HandleFrame(frame(t, models.EventMessageDeleted, 42, models.MessageDeleted{Message: msg(2, 42, 7, 20, "b"), ConversationID: 42}))
	assert.Equal(t, []int64{1}, ids(e.Snapshot().Messages))
	assert.Equal(t, []int64{2}, api.deleted)

	require.NoError(t, e.MarkRead(ctx))
	assert.Equal(t, []int64{42}, api.readIDs)
	assert.Nil(t, e.Snapshot().Messages[0].ReadAt, "read state only changes via events")
}

func TestEngine_Resync(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42, Messages: []models.Message{msg(1, 42, 7, 10, "a"), msg(2, 42, 8, 20, "b")}}
	e := newEngine(api, &fakeChannel{})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)

	api.mu.Lock()
	api.convs[42] = models.Conversation{ID: 42, Messages: []models.Message{msg(1, 42, 7, 10, "a"), msg(3, 42, 8, 30, "c")}}
	api.mu.Unlock()
	require.NoError(t, e.Resync(context.Background()))
	assert.Equal(t, []int64{1, 3}, ids(e.Snapshot().Messages))

	e.Close()
	require.NoError(t, e.Resync(context.Background()))
	assert.Empty(t, e.Snapshot().Messages)
}

func TestEngine_TypingScenario(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42}
	sender := New(api, &fakeChannel{}, Options{UserID: 7})
	_, err := sender.Open(context.Background(), 42)
	require.NoError(t, err)

	peer := New(api, &fakeChannel{}, Options{UserID: 8})
	_, err = peer.Open(context.Background(), 42)
	require.NoError(t, err)

	emitted := make(chan bool, 4)
	typer := NewTyper(func(isTyping bool) {
		sender.SetTyping(context.Background(), isTyping)
		peer.HandleFrame(frame(t, models.EventUserTyping, 42, models.UserTyping{ConversationID: 42, UserID: 7, IsTyping: isTyping}))
		emitted <- isTyping
	})
	typer.Idle = 50 * time.Millisecond

	typer.Keystroke()
	assert.True(t, <-emitted)
	assert.Equal(t, []int64{7}, peer.Snapshot().Typing)

	select {
	case v := <-emitted:
		assert.False(t, v)
	case <-time.After(time.Second):
		t.Fatal("typing never stopped")
	}
	assert.Empty(t, peer.Snapshot().Typing)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []bool{true, false}, api.typing)
}

func TestEngine_TypingLapseNotifies(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42}

	var mu sync.Mutex
	var rendered [][]int64
	e := New(api, &fakeChannel{}, Options{
		UserID:    8,
		TypingTTL: 50 * time.Millisecond,
		OnChange: func(s Snapshot) {
			mu.Lock()
			rendered = append(rendered, s.Typing)
			mu.Unlock()
		},
	})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)
	last := func() []int64 {
		mu.Lock()
		defer mu.Unlock()
		return rendered[len(rendered)-1]
	}

	e.HandleFrame(frame(t, models.EventUserTyping, 42, models.UserTyping{ConversationID: 42, UserID: 7, IsTyping: true}))
	assert.Equal(t, []int64{7}, last())

	assert.Eventually(t, func() bool { return len(last()) == 0 }, time.Second, 5*time.Millisecond,
		"silence past the ttl is rendered without another frame")
	assert.Empty(t, e.Snapshot().Typing)

	e.HandleFrame(frame(t, models.EventUserTyping, 42, models.UserTyping{ConversationID: 42, UserID: 7, IsTyping: true}))
	e.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []int64{7}, last(), "a closed conversation stays quiet")
}

func TestEngine_ResyncKeepsLiveArrivals(t *testing.T) {
	api := newFakeAPI()
	api.convs[42] = models.Conversation{ID: 42, Messages: []models.Message{msg(1, 42, 8, 10, "a"), msg(2, 42, 8, 30, "b")}}
	e := newEngine(api, &fakeChannel{})
	_, err := e.Open(context.Background(), 42)
	require.NoError(t, err)

	gate := make(chan struct{})
	api.mu.Lock()
	api.gates[42] = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- e.Resync(context.Background()) }()
	require.Eventually(t, func() bool { return api.blocked.Load() == 1 }, time.Second, time.Millisecond)

	// Arrives after the stale page was read on the server.
	e.HandleFrame(frame(t, models.EventMessageSent, 42, msg(3, 42, 8, 20, "live")))
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 3, 2}, ids(e.Snapshot().Messages))
}

func TestEngine_ClosedIgnoresFrames(t *testing.T) {
	e := newEngine(newFakeAPI(), &fakeChannel{})
	e.HandleFrame(frame(t, models.EventMessageSent, 42, msg(1, 42, 7, 1, "x")))
	assert.Empty(t, e.Snapshot().Messages)
	assert.ErrorIs(t, e.DeleteMessage(context.Background(), 1), ErrNotOpen)
	assert.ErrorIs(t, e.MarkRead(context.Background()), ErrNotOpen)
}
