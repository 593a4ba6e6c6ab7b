package ws

import (
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Send buffer size
	sendBufferSize = 256
)

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu       sync.RWMutex
	rooms    map[string]bool  // Subscribed rooms
	versions map[string]int64 // Last playback version sent per room
	closed   bool

	logger *zap.Logger
}

// NewClient creates a new client
func NewClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		rooms:    make(map[string]bool),
		versions: make(map[string]int64),
		logger:   logger,
	}
}

// GetUserID returns client's user ID
func (c *Client) GetUserID() string {
	return c.userID
}

// GetRooms returns client's subscribed rooms
func (c *Client) GetRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// IsInRoom checks if client is subscribed to a room
func (c *Client) IsInRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

// JoinRoom marks the room as subscribed
func (c *Client) JoinRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = true
}

// LeaveRoom forgets the room and its version watermark
func (c *Client) LeaveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
	delete(c.versions, roomID)
}

// sendSnapshot delivers a reply carrying the room's playback state at
// version unless a newer version has already been sent, checking and
// enqueueing under the same lock as sendVersioned. It reports whether data
// was queued.
func (c *Client) sendSnapshot(roomID string, version int64, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version < c.versions[roomID] {
		return false
	}
	c.versions[roomID] = version
	c.enqueueLocked(data)
	return true
}

// sendVersioned delivers a playback broadcast only if it is newer than
// anything this client has already been sent for the room
func (c *Client) sendVersioned(roomID string, version int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version <= c.versions[roomID] {
		return
	}
	c.versions[roomID] = version
	c.enqueueLocked(data)
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Failed to parse message",
				zap.String("user_id", c.userID),
				zap.Error(err),
			)
			c.sendError(400, "無效的訊息格式", "")
			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// handleMessage handles incoming messages based on type
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleRoomCommand(msg, c.hub.Subscribe)
	case MessageTypeUnsubscribe:
		c.handleRoomCommand(msg, c.hub.Unsubscribe)
	case MessageTypeSync:
		c.handleRoomCommand(msg, c.hub.Sync)
	case MessageTypeUpdatePlayback:
		c.handleUpdatePlayback(msg)
	case MessageTypePing:
		c.handlePing(msg)
	default:
		c.sendError(400, "未知的訊息類型", msg.RequestID)
	}
}

func (c *Client) handleRoomCommand(msg *Message, fn func(*Client, string, string)) {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		c.sendError(400, "無效的請求參數", msg.RequestID)
		return
	}
	if !utils.ValidateUUID(payload.RoomID) {
		c.sendError(400, "無效的放映室 ID", msg.RequestID)
		return
	}

	fn(c, payload.RoomID, msg.RequestID)
}

func (c *Client) handleUpdatePlayback(msg *Message) {
	var payload UpdatePlaybackPayload
	if err := msg.ParsePayload(&payload); err != nil || payload.RoomID == "" {
		c.sendError(400, "無效的請求參數", msg.RequestID)
		return
	}
	if !utils.ValidateUUID(payload.RoomID) {
		c.sendError(400, "無效的放映室 ID", msg.RequestID)
		return
	}

	c.hub.UpdatePlayback(c, payload, msg.RequestID)
}

func (c *Client) handlePing(msg *Message) {
	pongMsg, _ := NewMessage(MessageTypePong, nil)
	pongMsg.RequestID = msg.RequestID
	c.SendMessage(pongMsg)
}

// SendMessage sends a message to the client
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message",
			zap.String("user_id", c.userID),
			zap.Error(err),
		)
		return
	}

	c.sendBytes(data)
}

func (c *Client) sendBytes(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.enqueueLocked(data)
}

// enqueueLocked requires c.mu held in either mode
func (c *Client) enqueueLocked(data []byte) {
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Channel is full, client is slow
		c.logger.Warn("Client send buffer full",
			zap.String("user_id", c.userID),
		)
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(code int, message, requestID string) {
	errMsg, _ := NewErrorMessage(code, message)
	errMsg.RequestID = requestID
	c.SendMessage(errMsg)
}

// sendAppError reports a service error with its details
func (c *Client) sendAppError(err error, requestID string) {
	msg, _ := NewMessage(MessageTypeError, &ErrorPayload{
		Code:    apperrors.GetHTTPStatus(err),
		Message: apperrors.GetMessage(err),
		Details: errorDetails(err),
	})
	msg.RequestID = requestID
	c.SendMessage(msg)
}

// Close closes the client's send channel; safe to call more than once
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
