package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamvoice/live-dialog-service/internal/dispatch"
	"github.com/streamvoice/live-dialog-service/internal/merge"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Monitoring clients connect from anywhere on the trusted network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the envelope sent to websocket clients.
type wsEvent struct {
	Type   string      `json:"type"` // update, turn, or transcript
	Update interface{} `json:"update,omitempty"`
	Turn   interface{} `json:"turn,omitempty"`
}

// wsClient adapts one websocket connection to a session subscriber. Events
// are buffered; a client that cannot keep up is disconnected rather than
// allowed to stall the pipeline.
type wsClient struct {
	conn     *websocket.Conn
	send     chan wsEvent
	done     chan struct{}
	stopOnce sync.Once
}

func (c *wsClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *wsClient) OnUpdate(r dispatch.Result) {
	c.enqueue(wsEvent{Type: "update", Update: r})
}

func (c *wsClient) OnTurnClosed(t merge.Turn) {
	c.enqueue(wsEvent{Type: "turn", Turn: t})
}

func (c *wsClient) enqueue(ev wsEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Buffer full. Stopping makes the write loop exit and drop the
		// client.
		c.stop()
	}
}

// handleLive implements the /live/{id} websocket endpoint.
func (h *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionByPath(w, r, "/live/")
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsEvent, wsSendBuffer),
		done: make(chan struct{}),
	}

	subID := s.Subscribe(client)
	h.metrics.SetWebsocketClients(int(h.wsClients.Add(1)))

	h.logger.Info("Websocket client connected",
		"session_id", s.ID,
		"remote_addr", r.RemoteAddr)

	// Replay the transcript so far, then stream live events.
	client.enqueue(wsEvent{Type: "transcript", Update: s.Transcript()})

	go client.readLoop()
	client.writeLoop(h)

	s.Unsubscribe(subID)
	h.metrics.SetWebsocketClients(int(h.wsClients.Add(-1)))

	h.logger.Info("Websocket client disconnected",
		"session_id", s.ID,
		"remote_addr", r.RemoteAddr)
}

// readLoop consumes client frames to keep pong handling alive; clients send
// no application data.
func (c *wsClient) readLoop() {
	defer c.stop()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writeLoop(h *HTTPServer) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "client too slow"))
			return
		}
	}
}
