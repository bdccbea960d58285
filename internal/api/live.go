package api

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rollcall/internal/models"
)

const writeTimeout = 5 * time.Second

// wsObserver adapts a WebSocket connection to the hub's Observer interface.
// gorilla connections allow one concurrent writer, hence the mutex.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) Send(evt models.CheckinEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return o.conn.WriteJSON(evt)
}

// liveFeed upgrades the request to a WebSocket and streams accepted check-ins
// for the session to its owning teacher until the client goes away.
func (h *Handler) liveFeed(c *gin.Context) {
	sess, _, ok := h.ownedSession(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("live feed upgrade: %v", err)
		return
	}
	defer conn.Close()

	obs := &wsObserver{conn: conn}
	h.hub.Attach(sess.ID, obs)
	defer h.hub.Detach(sess.ID, obs)

	// Block reading until the connection drops; the hub writes events from
	// the check-in path.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.baseURL != "" && strings.HasPrefix(origin, h.baseURL) {
		return true
	}
	// Local development frontends.
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}
