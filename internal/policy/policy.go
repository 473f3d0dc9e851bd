// Package policy decides who may act on conversations, messages and
// accounts. Every check is a pure function of the actor and the resource.
package policy

import "slices"

type Action string

const (
	View     Action = "view"
	Send     Action = "send"
	MarkRead Action = "mark-read"
	Typing   Action = "typing"
	Join     Action = "join"
	Update   Action = "update"
	Delete   Action = "delete"
)

// Resource is something an action can target.
type Resource interface {
	permits(actor int64, action Action) bool
}

// Conversation grants conversation-scoped actions to its participants.
type Conversation struct {
	ParticipantIDs []int64
}

func (c Conversation) permits(actor int64, action Action) bool {
	switch action {
	case View, Send, MarkRead, Typing, Join:
		return slices.Contains(c.ParticipantIDs, actor)
	}
	return false
}

// Message grants edits and deletes to its author only.
type Message struct {
	AuthorID int64
}

func (m Message) permits(actor int64, action Action) bool {
	switch action {
	case Update, Delete:
		return m.AuthorID == actor
	}
	return false
}

// Account grants changes to a user account to its owner only.
type Account struct {
	UserID int64
}

func (a Account) permits(actor int64, action Action) bool {
	switch action {
	case Update, Delete:
		return a.UserID == actor
	}
	return false
}

func CanPerform(actor int64, action Action, r Resource) bool {
	if actor <= 0 || r == nil {
		return false
	}
	return r.permits(actor, action)
}

// CanJoinChannel reports whether actor may subscribe to a conversation's
// presence channel.
func CanJoinChannel(actor int64, participantIDs []int64) bool {
	return CanPerform(actor, Join, Conversation{ParticipantIDs: participantIDs})
}
