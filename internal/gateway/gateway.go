package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"botcloud/internal/hub"
	"botcloud/internal/logger"
	"botcloud/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = pongTimeout * 9 / 10
	maxMessageSize = 4096

	defaultQueueSize = 256
)

var (
	errQueueFull  = errors.New("send queue full")
	errConnClosed = errors.New("connection closed")
)

// Client frames.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
)

// Server frames.
const (
	msgInit  = "init"
	msgLog   = "log"
	msgError = "error"
)

type clientMessage struct {
	Type  string `json:"type"`
	BotID string `json:"botId"`
}

type serverMessage struct {
	Type  string      `json:"type"`
	BotID string      `json:"botId,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Gateway is the WebSocket endpoint observers use to follow a bot's log.
type Gateway struct {
	hub          *hub.Hub
	historyLimit int
	queueSize    int
	upgrader     websocket.Upgrader
	log          *logrus.Entry

	mu    sync.Mutex
	conns map[string]*conn
}

// New creates a Gateway replaying historyLimit lines on every subscribe.
func New(h *hub.Hub, historyLimit int) *Gateway {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Gateway{
		hub:          h,
		historyLimit: historyLimit,
		queueSize:    defaultQueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   logger.For("gateway"),
		conns: make(map[string]*conn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Debug("upgrade failed")
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan serverMessage, g.queueSize),
		closed: make(chan struct{}),
	}
	g.track(c)
	defer g.untrack(c)

	go c.writeLoop()
	g.readLoop(c)
}

// Close drops every open connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) track(c *conn) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}

func (g *Gateway) readLoop(c *conn) {
	defer func() {
		g.unsubscribe(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.WithField("conn", c.id).WithError(err).Debug("read failed")
			}
			return
		}

		switch msg.Type {
		case msgSubscribe:
			g.subscribe(c, msg.BotID)
		case msgUnsubscribe:
			g.unsubscribe(c)
		default:
			c.enqueue(serverMessage{Type: msgError, Error: "unknown message type: " + msg.Type})
		}
	}
}

// subscribe moves c to identity and replays its recent history. The replay
// and the live attach are one step in the hub, so the client sees every
// line exactly once across init and log frames.
func (g *Gateway) subscribe(c *conn, identity string) {
	if !models.ValidIdentity(identity) {
		c.enqueue(serverMessage{Type: msgError, Error: "invalid botId"})
		return
	}
	g.unsubscribe(c)

	err := g.hub.Attach(identity, c, func() error {
		lines, err := g.hub.History(context.Background(), identity, g.historyLimit)
		if err != nil {
			return err
		}
		return c.enqueue(serverMessage{Type: msgInit, BotID: identity, Data: lines})
	})
	if err != nil {
		g.log.WithFields(logrus.Fields{"conn": c.id, "bot": identity}).WithError(err).Warn("subscribe failed")
		c.enqueue(serverMessage{Type: msgError, BotID: identity, Error: "subscribe failed"})
		return
	}
	c.setIdentity(identity)
}

func (g *Gateway) unsubscribe(c *conn) {
	if prev := c.setIdentity(""); prev != "" {
		g.hub.Detach(prev, c)
	}
}

// conn is one WebSocket observer. Only writeLoop writes data frames.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan serverMessage

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	identity string
}

func (c *conn) ID() string { return c.id }

// Deliver queues a live line. A full queue closes the connection; the
// client reconnects and gets a fresh replay.
func (c *conn) Deliver(line models.LogLine) error {
	return c.enqueue(serverMessage{Type: msgLog, BotID: line.BotID, Data: line})
}

func (c *conn) enqueue(msg serverMessage) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.close()
		return errQueueFull
	}
}

func (c *conn) setIdentity(identity string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.identity
	c.identity = identity
	return prev
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
