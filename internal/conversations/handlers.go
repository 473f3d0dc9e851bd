package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/ageniuscoder/chatsync/internal/auth"
	"github.com/ageniuscoder/chatsync/internal/chat"
	"github.com/ageniuscoder/chatsync/internal/httpx"
	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/ageniuscoder/chatsync/internal/policy"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/ageniuscoder/chatsync/internal/utils"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SocketHeader carries the caller's websocket id so broadcasts can skip it.
const SocketHeader = "X-Socket-ID"

// PerPage is the message page size used by every history read.
const PerPage = 50

type Service struct {
	Store  *store.Store
	Events chat.Broadcaster
	Log    *slog.Logger
	typing *limiter
}

type createReq struct {
	Type  string  `json:"type" binding:"required,oneof=private group"`
	Name  string  `json:"name" binding:"max=255"`
	Users []int64 `json:"users" binding:"required,min=1,dive,gt=0"`
}

type typingReq struct {
	IsTyping *bool `json:"is_typing" binding:"required"`
}

func Register(rg gin.IRoutes, st *store.Store, events chat.Broadcaster, typingRate float64, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{Store: st, Events: events, Log: log, typing: newLimiter(rate.Limit(typingRate), 10)}
	rg.GET("/conversations", s.listMine)
	rg.POST("/conversations", s.create)
	rg.GET("/conversations/:id", s.show)
	rg.POST("/conversations/:id/mark-read", s.markRead)
	rg.POST("/conversations/:id/typing", s.setTyping)
}

// Authorize returns nil when uid may perform action on the conversation,
// a wrapped ErrNotFound when it does not exist and ErrForbidden otherwise.
func Authorize(ctx context.Context, st *store.Store, conversationID, uid int64, action policy.Action) error {
	ids, err := st.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	if !policy.CanPerform(uid, action, policy.Conversation{ParticipantIDs: ids}) {
		return fmt.Errorf("conversation %d: %w", conversationID, httpx.ErrForbidden)
	}
	return nil
}

func (s *Service) listMine(c *gin.Context) {
	list, err := s.Store.ConversationsForUser(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, list)
}

func (s *Service) create(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	members := []int64{uid}
	for _, id := range req.Users {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}

	switch req.Type {
	case models.TypePrivate:
		if len(members) != 2 {
			httpx.Err(c, http.StatusUnprocessableEntity, utils.FieldErr("Users", "private", "A private conversation needs exactly one other user."))
			return
		}
		req.Name = ""
	case models.TypeGroup:
		if req.Name == "" {
			httpx.Err(c, http.StatusUnprocessableEntity, utils.FieldErr("Name", "required", "This field is required."))
			return
		}
	}

	ctx := c.Request.Context()
	n, err := s.Store.CountUsers(ctx, members)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if n != len(members) {
		httpx.Err(c, http.StatusUnprocessableEntity, utils.FieldErr("Users", "exists", "The selected users are invalid."))
		return
	}

	conv, err := s.Store.CreateConversation(ctx, req.Type, req.Name, members)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.Created(c, conv)
}

// show returns the conversation with its newest page of messages, oldest first.
func (s *Service) show(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := Authorize(ctx, s.Store, id, auth.MustUserID(c), policy.View); err != nil {
		httpx.Fail(c, err)
		return
	}

	conv, err := s.Store.Conversation(ctx, id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	page, err := s.Store.ListMessages(ctx, id, 1, PerPage)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	conv.Messages = page.Data
	httpx.OK(c, conv)
}

func (s *Service) markRead(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	if err := Authorize(ctx, s.Store, id, uid, policy.MarkRead); err != nil {
		httpx.Fail(c, err)
		return
	}

	p, err := s.Store.MarkRead(ctx, id, uid)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	p.User = nil
	s.publish(ctx, id, models.EventConversationRead, p, "")
	httpx.NoContent(c)
}

func (s *Service) setTyping(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	uid := auth.MustUserID(c)
	var req typingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := Authorize(ctx, s.Store, id, uid, policy.Typing); err != nil {
		httpx.Fail(c, err)
		return
	}
	if !s.typing.allow(uid) {
		httpx.Err(c, http.StatusTooManyRequests, "Too Many Attempts.")
		return
	}

	s.publish(ctx, id, models.EventUserTyping,
		models.UserTyping{ConversationID: id, UserID: uid, IsTyping: *req.IsTyping}, c.GetHeader(SocketHeader))
	httpx.NoContent(c)
}

// publish logs broadcast failures; the write already succeeded.
func (s *Service) publish(ctx context.Context, conversationID int64, name string, data any, except string) {
	Publish(ctx, s.Events, s.Log, conversationID, name, data, except)
}

// Publish broadcasts one event on a conversation's presence channel.
func Publish(ctx context.Context, events chat.Broadcaster, log *slog.Logger, conversationID int64, name string, data any, except string) {
	if events == nil {
		return
	}
	ev, err := chat.NewEvent(conversationID, name, data, except)
	if err == nil {
		err = events.Broadcast(ctx, ev)
	}
	if err != nil {
		log.Error("broadcast failed", "event", name, "conversation_id", conversationID, "err", err)
	}
}

// limiter keeps one token bucket per user.
type limiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[int64]*rate.Limiter
}

func newLimiter(limit rate.Limit, burst int) *limiter {
	if limit <= 0 {
		limit = 5
	}
	return &limiter{limit: limit, burst: burst, users: make(map[int64]*rate.Limiter)}
}

func (l *limiter) allow(uid int64) bool {
	l.mu.Lock()
	lim, ok := l.users[uid]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[uid] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
