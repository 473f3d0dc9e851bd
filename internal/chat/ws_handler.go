package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ageniuscoder/chatsync/internal/auth"
	"github.com/ageniuscoder/chatsync/internal/httpx"
	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is checked by the CORS layer; tokens gate access here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Users resolves the display name shown in presence rosters.
type Users interface {
	UserByID(ctx context.Context, id int64) (models.User, error)
}

// RegisterWS mounts GET /ws for authenticated clients.
// Auth works via:
// 1) Header: Authorization: Bearer <JWT>
// 2) Query:  ?token=<JWT>
func RegisterWS(rg gin.IRoutes, hub *Hub, users Users, jwtSecret string) {
	rg.GET("/ws", func(c *gin.Context) {
		token := auth.BearerToken(c)
		if token == "" {
			httpx.Err(c, http.StatusUnauthorized, "missing token")
			return
		}
		cl, err := auth.ParseToken(jwtSecret, token)
		if err != nil {
			httpx.Err(c, http.StatusUnauthorized, "invalid token")
			return
		}
		u, err := users.UserByID(c.Request.Context(), cl.UserID)
		if err != nil {
			httpx.Err(c, http.StatusUnauthorized, "unknown user")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := newClient(hub, conn, models.Member{ID: u.ID, Name: u.Name})
		f, _ := models.NewFrame(models.FrameConnectionEstablished, "", models.ConnectionEstablished{SocketID: client.SocketID})
		hello, _ := json.Marshal(f)
		client.send <- hello

		if !hub.Register(client) {
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	})
}
