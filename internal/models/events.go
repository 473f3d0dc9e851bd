package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Broadcast event names. They match the payload contract consumed by clients.
const (
	EventMessageSent      = "MessageSent"
	EventMessageUpdated   = "MessageUpdated"
	EventMessageDeleted   = "MessageDeleted"
	EventConversationRead = "ConversationRead"
	EventUserTyping       = "UserTyping"
)

// Protocol frames exchanged on the websocket.
const (
	FrameConnectionEstablished = "connection_established"
	FrameSubscribe             = "subscribe"
	FrameUnsubscribe           = "unsubscribe"
	FrameSubscriptionSucceeded = "subscription_succeeded"
	FrameSubscriptionError     = "subscription_error"
	FrameMemberAdded           = "member_added"
	FrameMemberRemoved         = "member_removed"
	FrameTyping                = "typing"
	FrameError                 = "error"
)

const channelPrefix = "chat.conversation."

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Member is one entry of a presence channel roster.
type Member struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ConnectionEstablished struct {
	SocketID string `json:"socket_id"`
}

type SubscriptionSucceeded struct {
	Members []Member `json:"members"`
}

type MessageDeleted struct {
	Message        Message `json:"message"`
	ConversationID int64   `json:"conversation_id"`
}

type UserTyping struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
}

type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// ChannelName returns the presence channel of a conversation.
func ChannelName(conversationID int64) string {
	return channelPrefix + strconv.FormatInt(conversationID, 10)
}

// ParseChannel extracts the conversation id from a presence channel name.
func ParseChannel(name string) (int64, error) {
	raw, ok := strings.CutPrefix(name, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("unknown channel %q", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id in channel %q", name)
	}
	return id, nil
}

// NewFrame marshals data into a frame.
func NewFrame(event, channel string, data any) (Frame, error) {
	f := Frame{Event: event, Channel: channel}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return f, err
		}
		f.Data = b
	}
	return f, nil
}
