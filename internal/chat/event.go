package chat

import (
	"context"
	"encoding/json"

	"github.com/ageniuscoder/chatsync/internal/models"
)

// Event is one broadcast on a presence channel. It round-trips through JSON
// so it can cross nodes over Redis.
type Event struct {
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
	// Except is a socket id that must not receive the event.
	Except string `json:"except,omitempty"`
}

// NewEvent builds an event for a conversation's presence channel.
func NewEvent(conversationID int64, name string, data any, except string) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Channel: models.ChannelName(conversationID), Name: name, Data: b, Except: except}, nil
}

func (e Event) frame() models.Frame {
	return models.Frame{Event: e.Name, Channel: e.Channel, Data: e.Data}
}

// Broadcaster publishes events to every subscriber of a channel, on this
// node or, for the Redis implementation, on all nodes.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
}
