package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/ageniuscoder/chatsync/internal/models"
)

// ErrHubClosed is returned by Broadcast once Run has returned.
var ErrHubClosed = errors.New("chat: hub closed")

// Members looks up who belongs to a conversation. *store.Store satisfies it.
type Members interface {
	ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
}

type subscription struct {
	client  *Client
	channel string
	// err is set when the join was refused; the hub only reports it.
	err string
}

type whisper struct {
	client   *Client
	channel  string
	isTyping bool
}

// Hub owns every presence channel. All maps are touched only by the Run
// goroutine; everything else talks to it through channels.
type Hub struct {
	members Members
	log     *slog.Logger

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	broadcast   chan Event
	typing      chan whisper
	done        chan struct{}

	clients  map[*Client]bool
	channels map[string]map[*Client]bool
}

func NewHub(members Members, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		members:     members,
		log:         log.With("component", "hub"),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		broadcast:   make(chan Event, 64),
		typing:      make(chan whisper),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		channels:    make(map[string]map[*Client]bool),
	}
}

// Run processes hub requests until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			close(c.send)
		}
		clear(h.clients)
		clear(h.channels)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("client connected", "socket_id", c.SocketID, "user_id", c.Member.ID)

		case c := <-h.unregister:
			h.remove(c)

		case s := <-h.subscribe:
			if !h.clients[s.client] {
				continue
			}
			if s.err != "" {
				h.sendFrame(s.client, models.FrameSubscriptionError, s.channel, models.ErrorData{Message: s.err})
				continue
			}
			h.join(s.client, s.channel)

		case s := <-h.unsubscribe:
			if h.clients[s.client] {
				h.leave(s.client, s.channel)
			}

		case w := <-h.typing:
			if !h.channels[w.channel][w.client] {
				continue
			}
			id, err := models.ParseChannel(w.channel)
			if err != nil {
				continue
			}
			data, _ := json.Marshal(models.UserTyping{ConversationID: id, UserID: w.client.Member.ID, IsTyping: w.isTyping})
			h.fanout(Event{Channel: w.channel, Name: models.EventUserTyping, Data: data}, func(c *Client) bool {
				return c.Member.ID != w.client.Member.ID
			})

		case ev := <-h.broadcast:
			h.fanout(ev, func(c *Client) bool {
				return ev.Except == "" || c.SocketID != ev.Except
			})
		}
	}
}

// Broadcast implements Broadcaster for a single node.
func (h *Hub) Broadcast(ctx context.Context, ev Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) requestSubscribe(s subscription) {
	select {
	case h.subscribe <- s:
	case <-h.done:
	}
}

func (h *Hub) requestUnsubscribe(s subscription) {
	select {
	case h.unsubscribe <- s:
	case <-h.done:
	}
}

func (h *Hub) requestTyping(w whisper) {
	select {
	case h.typing <- w:
	case <-h.done:
	}
}

// join adds c to channel and announces it. member_added only goes out on
// the user's first connection in the channel.
func (h *Hub) join(c *Client, channel string) {
	set := h.channels[channel]
	if set == nil {
		set = make(map[*Client]bool)
		h.channels[channel] = set
	}
	already := set[c]
	firstForUser := !h.userIn(channel, c.Member.ID)
	set[c] = true
	c.channels[channel] = true

	h.sendFrame(c, models.FrameSubscriptionSucceeded, channel, models.SubscriptionSucceeded{Members: h.roster(channel)})
	if already || !firstForUser {
		return
	}
	h.notifyOthers(c, models.FrameMemberAdded, channel, c.Member)
}

// leave removes c from channel. member_removed only goes out when the
// user's last connection leaves.
func (h *Hub) leave(c *Client, channel string) {
	set := h.channels[channel]
	if !set[c] {
		return
	}
	delete(set, c)
	delete(c.channels, channel)
	if len(set) == 0 {
		delete(h.channels, channel)
		return
	}
	if !h.userIn(channel, c.Member.ID) {
		h.notifyOthers(c, models.FrameMemberRemoved, channel, c.Member)
	}
}

func (h *Hub) remove(c *Client) {
	if !h.clients[c] {
		return
	}
	for channel := range c.channels {
		h.leave(c, channel)
	}
	delete(h.clients, c)
	close(c.send)
	h.log.Debug("client disconnected", "socket_id", c.SocketID, "user_id", c.Member.ID)
}

func (h *Hub) userIn(channel string, userID int64) bool {
	for c := range h.channels[channel] {
		if c.Member.ID == userID {
			return true
		}
	}
	return false
}

// roster lists the distinct users subscribed to channel, ordered by id.
func (h *Hub) roster(channel string) []models.Member {
	seen := map[int64]bool{}
	members := []models.Member{}
	for c := range h.channels[channel] {
		if seen[c.Member.ID] {
			continue
		}
		seen[c.Member.ID] = true
		members = append(members, c.Member)
	}
	slices.SortFunc(members, func(a, b models.Member) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return members
}

func (h *Hub) notifyOthers(c *Client, event, channel string, member models.Member) {
	data, _ := json.Marshal(member)
	h.fanout(Event{Channel: channel, Name: event, Data: data}, func(o *Client) bool {
		return o.Member.ID != c.Member.ID
	})
}

// fanout delivers ev to every subscriber of its channel accepted by keep.
// Clients whose buffer is full are dropped.
func (h *Hub) fanout(ev Event, keep func(*Client) bool) {
	payload, err := json.Marshal(ev.frame())
	if err != nil {
		h.log.Error("marshal frame", "event", ev.Name, "err", err)
		return
	}

	var slow []*Client
	for c := range h.channels[ev.Channel] {
		if !keep(c) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.log.Warn("dropped slow client", "socket_id", c.SocketID, "user_id", c.Member.ID)
		h.remove(c)
	}
}

func (h *Hub) sendFrame(c *Client, event, channel string, data any) {
	f, err := models.NewFrame(event, channel, data)
	if err != nil {
		h.log.Error("marshal frame", "event", event, "err", err)
		return
	}
	payload, _ := json.Marshal(f)
	select {
	case c.send <- payload:
	default:
		h.log.Warn("dropped slow client", "socket_id", c.SocketID, "user_id", c.Member.ID)
		h.remove(c)
	}
}
