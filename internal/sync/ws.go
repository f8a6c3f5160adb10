package sync

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CLI clients send no Origin header
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler must sit behind the auth middleware; userID reads the
// authenticated account from the request.
func WSHandler(hub *Hub, userID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		// welcome goes out before the hub may write to ws
		_ = ws.WriteMessage(
			websocket.TextMessage,
			[]byte(`{"type":"welcome","transport":"websocket"}`+"\n"),
		)
		hub.AddWS(ws, uid)
		log.Printf("[ws] client connected user=%s", uid)

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.RemoveWS(ws)
		log.Println("[ws] client disconnected")
	}
}
