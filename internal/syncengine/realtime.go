package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/gorilla/websocket"
)

const (
	handshakeWait = 10 * time.Second
	readWait      = 90 * time.Second
	writeWait     = 10 * time.Second
)

// WebsocketURL turns an http(s) base URL into the server's /ws endpoint.
func WebsocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Realtime is a self-healing websocket connection. It remembers the
// channels it is subscribed to and restores them after every reconnect.
type Realtime struct {
	URL   string
	Token string

	Dialer *websocket.Dialer
	// OnFrame receives every server frame except connection_established.
	OnFrame func(models.Frame)
	// OnConnect runs in its own goroutine after each (re)connect, once the
	// channels have been re-subscribed.
	OnConnect func(ctx context.Context)
	Backoff   *Backoff
	Log       *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
	channels map[string]bool

	wmu sync.Mutex
}

func NewRealtime(wsURL, token string, log *slog.Logger) *Realtime {
	if log == nil {
		log = slog.Default()
	}
	return &Realtime{
		URL:      wsURL,
		Token:    token,
		Dialer:   websocket.DefaultDialer,
		Backoff:  NewBackoff(),
		Log:      log.With("component", "realtime"),
		channels: make(map[string]bool),
	}
}

// SocketID is the id of the live connection, empty while disconnected.
func (r *Realtime) SocketID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.socketID
}

// Run connects and keeps reconnecting with backoff until ctx is done.
func (r *Realtime) Run(ctx context.Context) error {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := r.Backoff.Next()
		r.Log.Warn("disconnected", "err", err, "retry_in", d)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Realtime) dialURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", r.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Realtime) session(ctx context.Context) error {
	target, err := r.dialURL()
	if err != nil {
		return err
	}
	conn, _, err := r.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var hello models.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if hello.Event != models.FrameConnectionEstablished {
		return fmt.Errorf("handshake: unexpected %q", hello.Event)
	}
	var est models.ConnectionEstablished
	if err := json.Unmarshal(hello.Data, &est); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	r.mu.Lock()
	r.conn, r.socketID = conn, est.SocketID
	channels := make([]string, 0, len(r.channels))
	for ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn, r.socketID = nil, ""
		}
		r.mu.Unlock()
	}()

	r.Backoff.Reset()
	r.Log.Info("connected", "socket_id", est.SocketID)
	for _, ch := range channels {
		if err := r.write(conn, models.FrameSubscribe, ch); err != nil {
			return err
		}
	}
	if r.OnConnect != nil {
		go r.OnConnect(ctx)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		var f models.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			r.Log.Debug("bad frame", "err", err)
			continue
		}
		if r.OnFrame != nil {
			r.OnFrame(f)
		}
	}
}

func (r *Realtime) write(conn *websocket.Conn, event, channel string) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.Frame{Event: event, Channel: channel})
}

// Subscribe joins channel now if connected and after every reconnect.
func (r *Realtime) Subscribe(channel string) error {
	r.mu.Lock()
	r.channels[channel] = true
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return r.write(conn, models.FrameSubscribe, channel)
}

// Unsubscribe leaves channel and forgets it.
func (r *Realtime) Unsubscribe(channel string) error {
	r.mu.Lock()
	delete(r.channels, channel)
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := r.write(conn, models.FrameUnsubscribe, channel)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
