package messages

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/ageniuscoder/chatsync/internal/auth"
	"github.com/ageniuscoder/chatsync/internal/chat"
	"github.com/ageniuscoder/chatsync/internal/conversations"
	"github.com/ageniuscoder/chatsync/internal/httpx"
	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/ageniuscoder/chatsync/internal/policy"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/ageniuscoder/chatsync/internal/uploads"
	"github.com/ageniuscoder/chatsync/internal/utils"
	"github.com/gin-gonic/gin"
)

const maxAttachmentSize = 10240 * 1024

// Notifier is told about every stored message.
type Notifier interface {
	MessageCreated(ctx context.Context, m models.Message)
}

type Service struct {
	Store    *store.Store
	Events   chat.Broadcaster
	Uploads  *uploads.Store
	Notifier Notifier
	Log      *slog.Logger
}

type sendReq struct {
	Content     string                  `form:"content" json:"content" binding:"required_without=Attachments,max=2000"`
	Attachments []*multipart.FileHeader `form:"attachments[]" json:"-" binding:"max=5"`
}

type updateReq struct {
	Content string `json:"content" binding:"required,max=2000"`
}

type pageReq struct {
	Page int `form:"page" binding:"omitempty,min=1"`
}

func Register(rg gin.IRoutes, st *store.Store, events chat.Broadcaster, up *uploads.Store, notifier Notifier, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s := Service{Store: st, Events: events, Uploads: up, Notifier: notifier, Log: log}
	rg.GET("/conversations/:id/messages", s.list)
	rg.POST("/conversations/:id/messages", s.send)
	rg.PATCH("/messages/:id", s.update)
	rg.DELETE("/messages/:id", s.remove)
}

// list pages through history: page 1 holds the newest messages, each page
// ordered oldest first.
func (s Service) list(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	var q pageReq
	if err := c.ShouldBindQuery(&q); err != nil {
		httpx.BindErr(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := conversations.Authorize(ctx, s.Store, id, auth.MustUserID(c), policy.View); err != nil {
		httpx.Fail(c, err)
		return
	}

	page, err := s.Store.ListMessages(ctx, id, q.Page, conversations.PerPage)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, page)
}

func (s Service) send(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	uid := auth.MustUserID(c)
	ctx := c.Request.Context()
	if err := conversations.Authorize(ctx, s.Store, id, uid, policy.Send); err != nil {
		httpx.Fail(c, err)
		return
	}

	var req sendReq
	if err := c.ShouldBind(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	for i, fh := range req.Attachments {
		if fh.Size > maxAttachmentSize {
			httpx.Err(c, http.StatusUnprocessableEntity,
				utils.FieldErr(fmt.Sprintf("Attachments[%d]", i), "max", "May not be greater than 10240 kilobytes."))
			return
		}
	}

	var urls []string
	for _, fh := range req.Attachments {
		u, err := s.Uploads.Save(fh)
		if err != nil {
			s.Uploads.Delete(urls...)
			httpx.Fail(c, err)
			return
		}
		urls = append(urls, u)
	}

	var content *string
	if req.Content != "" {
		content = &req.Content
	}
	m, err := s.Store.CreateMessage(ctx, id, uid, content, urls)
	if err != nil {
		s.Uploads.Delete(urls...)
		httpx.Fail(c, err)
		return
	}

	conversations.Publish(ctx, s.Events, s.Log, id, models.EventMessageSent, m, c.GetHeader(conversations.SocketHeader))
	if s.Notifier != nil {
		s.Notifier.MessageCreated(ctx, m)
	}
	httpx.Created(c, m)
}

// authorOnly loads a live message and checks the caller may act on it.
func (s Service) authorOnly(c *gin.Context, action policy.Action) (models.Message, bool) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return models.Message{}, false
	}
	m, err := s.Store.Message(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, err)
		return m, false
	}
	if !policy.CanPerform(auth.MustUserID(c), action, policy.Message{AuthorID: m.UserID}) {
		httpx.Fail(c, fmt.Errorf("message %d: %w", id, httpx.ErrForbidden))
		return m, false
	}
	return m, true
}

func (s Service) update(c *gin.Context) {
	m, ok := s.authorOnly(c, policy.Update)
	if !ok {
		return
	}
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	ctx := c.Request.Context()
	updated, err := s.Store.UpdateMessage(ctx, m.ID, req.Content)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	conversations.Publish(ctx, s.Events, s.Log, m.ConversationID, models.EventMessageUpdated, updated, "")
	httpx.OK(c, updated)
}

func (s Service) remove(c *gin.Context) {
	m, ok := s.authorOnly(c, policy.Delete)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.Store.DeleteMessage(ctx, m.ID); err != nil {
		httpx.Fail(c, err)
		return
	}

	conversations.Publish(ctx, s.Events, s.Log, m.ConversationID, models.EventMessageDeleted,
		models.MessageDeleted{Message: m, ConversationID: m.ConversationID}, "")
	httpx.NoContent(c)
}
