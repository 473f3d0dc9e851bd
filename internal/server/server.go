// Package server assembles the gin engine from the API packages.
package server

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ageniuscoder/chatsync/internal/auth"
	"github.com/ageniuscoder/chatsync/internal/chat"
	"github.com/ageniuscoder/chatsync/internal/config"
	"github.com/ageniuscoder/chatsync/internal/conversations"
	"github.com/ageniuscoder/chatsync/internal/messages"
	"github.com/ageniuscoder/chatsync/internal/notifications"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/ageniuscoder/chatsync/internal/uploads"
	"github.com/ageniuscoder/chatsync/internal/users"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Config   config.Config
	Store    *store.Store
	Hub      *chat.Hub
	Events   chat.Broadcaster
	Uploads  *uploads.Store
	Notifier messages.Notifier
	Log      *slog.Logger
}

func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors(d.Config.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	r.Static(uploads.URLPrefix, d.Uploads.Dir)
	chat.RegisterWS(r, d.Hub, d.Store, d.Config.JWTSecret)

	api := r.Group("/api")
	users.RegisterPublic(api, d.Store, d.Config)

	authed := api.Group("")
	authed.Use(auth.JWTMiddleware(d.Config.JWTSecret))
	users.Register(authed, d.Store)
	conversations.Register(authed, d.Store, d.Events, d.Config.TypingRate, d.Log)
	messages.Register(authed, d.Store, d.Events, d.Uploads, d.Notifier, d.Log)
	notifications.Register(authed, d.Store)

	return r
}

var (
	corsMethods = strings.Join([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}, ", ")
	corsHeaders = strings.Join([]string{"Authorization", "Content-Type", conversations.SocketHeader}, ", ")
)

// cors answers preflights and echoes allowed origins. An empty list
// disables CORS headers entirely.
func cors(origins []string) gin.HandlerFunc {
	wildcard := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || slices.Contains(origins, origin)) {
			h := c.Writer.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
