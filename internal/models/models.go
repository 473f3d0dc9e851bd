// Package models holds the JSON shapes shared by the HTTP API, the presence
// hub and the client sync engine.
package models

import (
	"encoding/json"
	"time"
)

const (
	TypePrivate = "private"
	TypeGroup   = "group"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant is one user's membership and read cursor in a conversation.
type Participant struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	UserID         int64      `json:"user_id"`
	LastReadAt     *time.Time `json:"last_read_at"`
	User           *User      `json:"user,omitempty"`
}

type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	UserID         int64      `json:"user_id"`
	Content        *string    `json:"content"`
	Attachments    []string   `json:"attachments"`
	EditedAt       *time.Time `json:"edited_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	User           *User      `json:"user,omitempty"`
}

type Conversation struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Type          string        `json:"type"`
	CreatedAt     time.Time     `json:"created_at"`
	Participants  []Participant `json:"participants"`
	Messages      []Message     `json:"messages,omitempty"`
	LatestMessage *Message      `json:"latest_message,omitempty"`
}

// ParticipantIDs returns the user ids of every participant.
func (c Conversation) ParticipantIDs() []int64 {
	ids := make([]int64, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

type Notification struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	ReadAt    *time.Time      `json:"read_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessagePage mirrors the paginator envelope returned by the messages index.
type MessagePage struct {
	Data        []Message `json:"data"`
	CurrentPage int       `json:"current_page"`
	PerPage     int       `json:"per_page"`
	Total       int       `json:"total"`
	LastPage    int       `json:"last_page"`
}
