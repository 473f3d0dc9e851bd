package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ageniuscoder/chatsync/internal/chat"
	"github.com/ageniuscoder/chatsync/internal/config"
	"github.com/ageniuscoder/chatsync/internal/storage/sqlite"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/ageniuscoder/chatsync/internal/uploads"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := sqlite.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Db.Close() })
	require.NoError(t, conn.Migrate())
	st := store.New(conn.Db, store.SQLite)

	dir := t.TempDir()
	up, err := uploads.New(dir, "http://chat.test")
	require.NoError(t, err)

	hub := chat.NewHub(st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Config{JWTSecret: "s", JWTTTLMin: 5, TypingRate: 5, CORSOrigins: []string{"https://app.example.com"}}
	return New(Deps{Config: cfg, Store: st, Hub: hub, Events: hub, Uploads: up}), dir
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRoutes_RegisterThenAuthenticated(t *testing.T) {
	r, _ := newEngine(t)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"name":"A","email":"a@example.com","password":"password1","password_confirmation":"password1"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))

	for _, path := range []string{"/api/conversations", "/api/notifications", "/api/user"} {
		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+reg.Token)
		assert.Equal(t, http.StatusOK, serve(r, req).Code, path)
	}

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/ws", nil)).Code)
}

func TestStaticUploads(t *testing.T) {
	r, dir := newEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "attachments", "x.txt"), []byte("hi"), 0o600))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/storage/attachments/x.txt", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", w.Body.String())
}

func TestCORS(t *testing.T) {
	r, _ := newEngine(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Socket-ID")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
