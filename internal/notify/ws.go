package notify

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dinehq/mesa/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientCommand is what a connected client may send: joining or leaving a
// table- or order-scoped topic. Role and actor topics are fixed at
// handshake and cannot be changed from the wire.
type clientCommand struct {
	Action string `json:"action"` // join | leave
	Topic  string `json:"topic"`  // table:<id> | order:<id>
}

// WSHandler upgrades the connection, authenticates the bearer credential
// via the identity collaborator and auto-subscribes the connection to its
// role and actor topics. There is no session resumption: a reconnect
// starts from zero.
func WSHandler(h *Hub, a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			if hdr := c.GetHeader("Authorization"); strings.HasPrefix(hdr, "Bearer ") {
				token = strings.TrimPrefix(hdr, "Bearer ")
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credential"})
			return
		}
		id, err := a.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredential) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			} else {
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "identity service unavailable"})
			}
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}

		cn := &conn{send: make(chan []byte, sendBuffer)}
		h.add(cn, RoleTopic(id.Role), ActorTopic(id.ActorTopicKey()))

		go writePump(ws, cn)
		go readPump(ws, h, cn)
	}
}

func readPump(ws *websocket.Conn, h *Hub, cn *conn) {
	defer func() {
		h.remove(cn)
		_ = ws.Close()
	}()
	ws.SetReadLimit(maxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd clientCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			return
		}
		t := Topic(cmd.Topic)
		if !strings.HasPrefix(cmd.Topic, "table:") && !strings.HasPrefix(cmd.Topic, "order:") {
			continue
		}
		switch cmd.Action {
		case "join":
			h.add(cn, t)
		case "leave":
			h.removeFrom(cn, t)
		}
	}
}

func writePump(ws *websocket.Conn, cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case msg, ok := <-cn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
