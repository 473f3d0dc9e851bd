package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/ageniuscoder/chatsync/internal/policy"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120
	authTimeout    = 3 * time.Second
	sendBuffer     = 256
)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	SocketID string
	Member   models.Member

	// channels is owned by the hub goroutine.
	channels map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, member models.Member) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		SocketID: uuid.NewString(),
		Member:   member,
		channels: make(map[string]bool),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read", "socket_id", c.SocketID, "err", err)
			}
			return
		}
		var f models.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f models.Frame) {
	switch f.Event {
	case models.FrameSubscribe:
		c.hub.requestSubscribe(c.authorize(f.Channel))
	case models.FrameUnsubscribe:
		c.hub.requestUnsubscribe(subscription{client: c, channel: f.Channel})
	case models.FrameTyping:
		var req models.TypingRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			return
		}
		c.hub.requestTyping(whisper{client: c, channel: f.Channel, isTyping: req.IsTyping})
	}
}

// authorize runs the channel join check outside the hub goroutine.
func (c *Client) authorize(channel string) subscription {
	s := subscription{client: c, channel: channel}
	id, err := models.ParseChannel(channel)
	if err != nil {
		s.err = err.Error()
		return s
	}
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()
	ids, err := c.hub.members.ParticipantIDs(ctx, id)
	if err != nil || !policy.CanJoinChannel(c.Member.ID, ids) {
		s.err = "forbidden"
	}
	return s
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
