// Package notifications records a "new message" notification for every
// other participant when a message is sent.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ageniuscoder/chatsync/internal/auth"
	"github.com/ageniuscoder/chatsync/internal/httpx"
	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/ageniuscoder/chatsync/internal/queue"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/gin-gonic/gin"
)

const (
	TypeNewMessage = "notification:new_message"
	queueName      = "notifications"
)

type newMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

// Data is what a new-message notification stores.
type Data struct {
	Message        models.Message `json:"message"`
	ConversationID int64          `json:"conversation_id"`
	Sender         models.Member  `json:"sender"`
}

type Service struct {
	Store *store.Store
	Queue queue.Client
	Log   *slog.Logger
}

func New(st *store.Store, q queue.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Store: st, Queue: q, Log: log}
}

// Attach registers the task handler on srv.
func (s *Service) Attach(srv queue.Server) {
	srv.Register(TypeNewMessage, s.HandleNewMessage)
}

// MessageCreated schedules the fan-out for m. Failures are logged only.
func (s *Service) MessageCreated(ctx context.Context, m models.Message) {
	b, _ := json.Marshal(newMessagePayload{MessageID: m.ID})
	_, err := s.Queue.Enqueue(ctx, queue.Task{Type: TypeNewMessage, Payload: b},
		queue.EnqueueOption{Queue: queueName, MaxRetry: 5})
	if err != nil {
		s.Log.Error("enqueue notification", "message_id", m.ID, "err", err)
	}
}

func (s *Service) HandleNewMessage(ctx context.Context, t queue.Task) error {
	var p newMessagePayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return fmt.Errorf("notifications: bad payload: %w", err)
	}

	m, err := s.Store.Message(ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		// deleted before we got to it
		return nil
	}
	if err != nil {
		return err
	}

	ids, err := s.Store.ParticipantIDs(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	recipients := ids[:0]
	for _, id := range ids {
		if id != m.UserID {
			recipients = append(recipients, id)
		}
	}

	d := Data{Message: m, ConversationID: m.ConversationID}
	if m.User != nil {
		d.Sender = models.Member{ID: m.User.ID, Name: m.User.Name}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.Store.CreateNotifications(ctx, recipients, TypeNewMessage, b)
}

func Register(rg gin.IRoutes, st *store.Store) {
	rg.GET("/notifications", func(c *gin.Context) {
		list, err := st.NotificationsFor(c.Request.Context(), auth.MustUserID(c), 50)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		httpx.OK(c, list)
	})
}
