package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ageniuscoder/chatsync/internal/models"
)

const socketHeader = "X-Socket-ID"

// Session is the credential every request carries.
type Session struct {
	Token     string    `json:"token"`
	Type      string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry. A session without
// an expiry never reports expired.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s Session) authorization() string {
	typ := s.Type
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + s.Token
}

// AuthResult is returned by Login and Register.
type AuthResult struct {
	Session Session
	User    models.User
}

// Attachment is one file of a multipart send.
type Attachment struct {
	Name string
	Data io.Reader
}

// Client talks to the REST API with an explicit Session.
type Client struct {
	base    string
	session Session
	http    *http.Client

	// SocketID, when set, supplies the realtime socket id sent as
	// X-Socket-ID so the server can skip echoing to this connection.
	SocketID func() string
}

func NewClient(baseURL string, session Session) *Client {
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		session: session,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient swaps the transport; used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) Session() Session { return c.session }

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &APIError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.session.Token != "" {
		req.Header.Set("Authorization", c.session.authorization())
	}
	if c.SocketID != nil {
		if id := c.SocketID(); id != "" {
			req.Header.Set(socketHeader, id)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Err: err}
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if in == nil {
		return c.do(ctx, method, path, nil, "", out)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, bytes.NewReader(b), "application/json", out)
}

func (c *Client) auth(ctx context.Context, path string, in any) (AuthResult, error) {
	var resp struct {
		Session
		User models.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, in, &resp); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Session: resp.Session, User: resp.User}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	return c.auth(ctx, "/api/login", map[string]string{"email": email, "password": password})
}

func (c *Client) Register(ctx context.Context, name, email, password string) (AuthResult, error) {
	return c.auth(ctx, "/api/register", map[string]string{
		"name": name, "email": email, "password": password, "password_confirmation": password,
	})
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.doJSON(ctx, http.MethodGet, "/api/user", nil, &u)
	return u, err
}

func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var list []models.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &list)
	return list, err
}

func (c *Client) GetConversation(ctx context.Context, id int64) (models.Conversation, error) {
	var conv models.Conversation
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+strconv.FormatInt(id, 10), nil, &conv)
	return conv, err
}

func (c *Client) CreateConversation(ctx context.Context, typ, name string, userIDs []int64) (models.Conversation, error) {
	var conv models.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations", map[string]any{
		"type": typ, "name": name, "users": userIDs,
	}, &conv)
	return conv, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64, page int) (models.MessagePage, error) {
	var p models.MessagePage
	q := url.Values{"page": {strconv.Itoa(page)}}
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages?%s", conversationID, q.Encode()), nil, &p)
	return p, err
}

// SendMessage posts content and attachments as one multipart request.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string, attachments []Attachment) (models.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if content != "" {
		if err := w.WriteField("content", content); err != nil {
			return models.Message{}, err
		}
	}
	for _, a := range attachments {
		part, err := w.CreateFormFile("attachments[]", a.Name)
		if err != nil {
			return models.Message{}, err
		}
		if _, err := io.Copy(part, a.Data); err != nil {
			return models.Message{}, err
		}
	}
	if err := w.Close(); err != nil {
		return models.Message{}, err
	}

	var m models.Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/messages", conversationID), &body, w.FormDataContentType(), &m)
	return m, err
}

func (c *Client) UpdateMessage(ctx context.Context, id int64, content string) (models.Message, error) {
	var m models.Message
	err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/messages/%d", id), map[string]string{"content": content}, &m)
	return m, err
}

func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/messages/%d", id), nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/mark-read", conversationID), nil, nil)
}

func (c *Client) SetTyping(ctx context.Context, conversationID int64, isTyping bool) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/typing", conversationID),
		models.TypingRequest{IsTyping: isTyping}, nil)
}
