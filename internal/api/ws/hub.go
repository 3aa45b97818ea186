package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API is served to local tools
	},
}

// Message is one frame sent to clients.
type Message struct {
	Type      string `json:"type"`
	Event     string `json:"event,omitempty"`
	Key       string `json:"key,omitempty"`
	Script    string `json:"script,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type inbound struct {
	Type string `json:"type"`
}

// Hub fans registry events out to connected clients.
type Hub struct {
	registry *registry.Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	observer registry.ObserverID

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub subscribes a hub to reg.
func NewHub(reg *registry.Config, logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		registry: reg,
		logger:   logger.Named("ws"),
		metrics:  metrics,
		clients:  make(map[*client]struct{}),
	}
	h.observer = reg.AddObserver(h.scriptEvent, nil)
	return h
}

func (h *Hub) scriptEvent(s *script.Script, event registry.Event, payload any) {
	h.Broadcast(Message{
		Type:      "script_event",
		Event:     string(event),
		Key:       registry.Key(s),
		Script:    s.ID(),
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

// Broadcast queues msg for every client. Clients whose buffer is full are
// disconnected.
func (h *Hub) Broadcast(msg Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.detachLocked(c)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and serves the client until it
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncWSConnections()

	go h.writePump(cl)
	h.readPump(cl)
}

// Close disconnects every client and unsubscribes from the registry.
func (h *Hub) Close() error {
	h.mu.Lock()
	for c := range h.clients {
		h.detachLocked(c)
	}
	h.mu.Unlock()
	return h.registry.RemoveObserver(h.observer, nil)
}

func (h *Hub) detachLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	h.metrics.DecWSConnections()
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	h.detachLocked(c)
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg inbound
		reply := Message{Type: "pong", Timestamp: time.Now().Unix()}
		if err := sonic.Unmarshal(data, &msg); err != nil || msg.Type != "ping" {
			reply = Message{Type: "error", Message: "unknown message type", Timestamp: time.Now().Unix()}
		}
		out, _ := sonic.Marshal(reply)

		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			select {
			case c.send <- out:
			default:
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
