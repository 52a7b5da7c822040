package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// Message types sent by clients
const (
	MessageTypeSubscribe   = "subscribe"   // data: {"jobId": "..."} limits events to one job
	MessageTypeUnsubscribe = "unsubscribe" // back to all events
)

const (
	sendBufferSize   = 64
	broadcastBacklog = 256
	writeWait        = 10 * time.Second
)

// Message represents a WebSocket message
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	mu     sync.Mutex
	closed bool
	jobID  string // empty means every event
}

// Server fans pipeline events out to connected clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
	done       chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, broadcastBacklog),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("web-socket"),
		done:   make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.closeAll()
			s.logger.Info("WebSocket server stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			s.removeLocked(client)
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.dispatch(message)
		}
	}
}

func (s *Server) dispatch(message *Message) {
	var slow []*Client

	s.mu.RLock()
	for client := range s.clients {
		if !client.wants(message) {
			continue
		}
		if !client.SendMessage(message) {
			slow = append(slow, client)
		}
	}
	s.mu.RUnlock()

	if len(slow) > 0 {
		s.mu.Lock()
		for _, client := range slow {
			s.removeLocked(client)
		}
		s.mu.Unlock()
		s.logger.Debug("Dropped slow clients", logger.Int("count", len(slow)))
	}
}

// removeLocked must be called with s.mu held
func (s *Server) removeLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	client.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		s.removeLocked(client)
	}
}

// ClientCount returns the number of registered clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HandleConnection upgrades the request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("Client connected", logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:   conn,
		send:   make(chan *Message, sendBufferSize),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Publish queues an event for every interested client. It never blocks: when
// the backlog is full the event is dropped.
func (s *Server) Publish(eventType string, data map[string]any) {
	message := &Message{Type: eventType, Data: data, Timestamp: time.Now().UTC()}
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Event backlog full, dropping event", logger.String("type", eventType))
	}
}

// readPump handles subscription messages until the connection closes
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Warn("WebSocket read error", logger.Error(err))
			}
			return
		}

		var message struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Debug("Ignoring malformed client message", logger.Error(err))
			continue
		}

		switch message.Type {
		case MessageTypeSubscribe:
			jobID, _ := message.Data["jobId"].(string)
			c.setJobFilter(jobID)
		case MessageTypeUnsubscribe:
			c.setJobFilter("")
		}
	}
}

// writePump writes queued messages until the send channel is closed
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(message); err != nil {
			c.server.logger.Debug("Failed to write message", logger.Error(err))
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// SendMessage queues a message for this client without blocking
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) setJobFilter(jobID string) {
	c.mu.Lock()
	c.jobID = jobID
	c.mu.Unlock()
}

func (c *Client) wants(message *Message) bool {
	c.mu.Lock()
	jobID := c.jobID
	c.mu.Unlock()
	if jobID == "" {
		return true
	}
	id, _ := message.Data["jobId"].(string)
	return id == jobID
}
