package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/go-demo/watchparty/internal/service"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errUnknownEvent = errors.New("unknown event type")

const broadcastBufferSize = 1024

// roomBroadcast is one committed event queued for delivery to a room
type roomBroadcast struct {
	RoomID  string            `json:"room_id"`
	Kind    service.EventType `json:"kind"`
	UserID  string            `json:"user_id,omitempty"`
	Version int64             `json:"version,omitempty"`
	Message *Message          `json:"message"`
	Origin  string            `json:"origin"`

	remote bool
}

// HubOptions configures cross-instance fan-out
type HubOptions struct {
	InstanceID  string
	Channel     string // Redis channel prefix, one channel per room
	RedisFanout bool
}

// Hub maintains the set of active clients and delivers committed room
// events to them. Events are dispatched by a single goroutine in the
// order they were published.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients by room: roomID -> clients
	rooms map[string]map[*Client]bool

	// Clients by user: userID -> clients (supports multiple connections)
	users map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Committed events to deliver
	broadcast chan *roomBroadcast

	// Mutex for thread-safe access
	mu sync.RWMutex

	session *service.SessionService

	// Redis for Pub/Sub (horizontal scaling)
	redis *redis.Client
	opts  HubOptions

	dropped uint64

	logger *zap.Logger
}

var _ service.Publisher = (*Hub)(nil)

// NewHub creates a new Hub. The session service is attached separately
// with SetSession since it publishes into the hub.
func NewHub(redisClient *redis.Client, opts HubOptions, logger *zap.Logger) *Hub {
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.New().String()
	}
	if opts.Channel == "" {
		opts.Channel = "watchparty:room:"
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		users:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomBroadcast, broadcastBufferSize),
		redis:      redisClient,
		opts:       opts,
		logger:     logger,
	}
}

// SetSession attaches the session service used for client commands
func (h *Hub) SetSession(session *service.SessionService) {
	h.session = session
}

// InstanceID identifies this hub in cross-instance fan-out
func (h *Hub) InstanceID() string {
	return h.opts.InstanceID
}

// Run dispatches until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case b := <-h.broadcast:
			h.dispatch(ctx, b)
		}
	}
}

// Publish queues a committed event. It never blocks; when the queue is
// full the event is dropped and counted, and clients recover with sync.
func (h *Hub) Publish(event *service.Event) {
	msg, err := messageFromEvent(event)
	if err != nil {
		h.logger.Error("Failed to render event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return
	}

	b := &roomBroadcast{
		RoomID:  event.RoomID,
		Kind:    event.Type,
		UserID:  event.UserID,
		Message: msg,
		Origin:  h.opts.InstanceID,
	}
	if event.State != nil {
		b.Version = event.State.Version
	}

	h.enqueue(b)
}

func (h *Hub) enqueue(b *roomBroadcast) {
	select {
	case h.broadcast <- b:
	default:
		atomic.AddUint64(&h.dropped, 1)
		h.logger.Warn("Broadcast queue full, dropping event",
			zap.String("room_id", b.RoomID),
			zap.String("type", string(b.Kind)),
		)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	// Add to users map
	if h.users[client.userID] == nil {
		h.users[client.userID] = make(map[*Client]bool)
	}
	h.users[client.userID][client] = true

	h.logger.Info("Client connected",
		zap.String("user_id", client.userID),
		zap.Int("total_clients", len(h.clients)),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()

	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}

	delete(h.clients, client)

	// Remove from users map
	if userClients, ok := h.users[client.userID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.users, client.userID)
		}
	}

	// Remove from all rooms
	for _, roomID := range client.GetRooms() {
		h.removeFromRoomLocked(client, roomID)
	}

	h.mu.Unlock()

	client.Close()

	h.logger.Info("Client disconnected",
		zap.String("user_id", client.userID),
	)
}

func (h *Hub) removeFromRoomLocked(client *Client, roomID string) {
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.LeaveRoom(roomID)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
	h.users = make(map[string]map[*Client]bool)

	h.logger.Info("Hub stopped")
}

// Subscribe attaches a client to a room's event stream. Only members may
// subscribe. The reply carries the current snapshot.
func (h *Hub) Subscribe(client *Client, roomID, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	isMember, err := h.session.IsMember(ctx, roomID, client.userID)
	if err != nil {
		client.sendAppError(err, requestID)
		return
	}
	if !isMember {
		client.sendError(403, "您不是該放映室的成員", requestID)
		return
	}

	// Attach before reading the snapshot so no committed event is missed;
	// the client's version guard discards anything older than the snapshot.
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	h.mu.Unlock()

	client.JoinRoom(roomID)

	room, err := h.session.GetRoom(ctx, roomID)
	if err != nil {
		client.sendAppError(err, requestID)
		return
	}
	sent, err := h.sendSnapshot(ctx, client, roomID, func(state *model.PlaybackState) *Message {
		msg, _ := NewMessage(MessageTypeSubscribed, &SubscribedPayload{
			RoomID:      roomID,
			RoomName:    room.Name,
			MemberCount: room.MemberCount,
			State:       NewPlaybackStatePayload(state, time.Now()),
		})
		msg.RequestID = requestID
		return msg
	})
	if err != nil {
		client.sendAppError(err, requestID)
		return
	}
	if !sent {
		// The client already holds a newer state from a broadcast
		msg, _ := NewMessage(MessageTypeSubscribed, &SubscribedPayload{
			RoomID:      roomID,
			RoomName:    room.Name,
			MemberCount: room.MemberCount,
		})
		msg.RequestID = requestID
		client.SendMessage(msg)
	}

	h.logger.Debug("Client subscribed to room",
		zap.String("user_id", client.userID),
		zap.String("room_id", roomID),
	)
}

// Unsubscribe detaches a client from a room
func (h *Hub) Unsubscribe(client *Client, roomID, requestID string) {
	h.mu.Lock()
	h.removeFromRoomLocked(client, roomID)
	h.mu.Unlock()

	msg, _ := NewMessage(MessageTypeUnsubscribed, &RoomPayload{RoomID: roomID})
	msg.RequestID = requestID
	client.SendMessage(msg)

	h.logger.Debug("Client unsubscribed from room",
		zap.String("user_id", client.userID),
		zap.String("room_id", roomID),
	)
}

// UpdatePlayback applies a client's playback command. The new state
// reaches every subscriber, the sender included, through the event stream;
// the ack only confirms the resulting version.
func (h *Hub) UpdatePlayback(client *Client, payload UpdatePlaybackPayload, requestID string) {
	if !client.IsInRoom(payload.RoomID) {
		client.sendError(403, "您尚未訂閱該放映室", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := h.session.UpdatePlaybackState(ctx, payload.RoomID, client.userID, payload.Patch(), payload.ExpectedVersion)
	if err != nil {
		client.sendAppError(err, requestID)
		return
	}

	ack, _ := NewMessage(MessageTypeAck, &AckPayload{
		RequestID: requestID,
		Success:   true,
		State:     NewPlaybackStatePayload(state, time.Now()),
	})
	ack.RequestID = requestID
	client.SendMessage(ack)
}

// Sync resends the current snapshot unless the client already holds a newer
// version, in which case it only acknowledges
func (h *Hub) Sync(client *Client, roomID, requestID string) {
	if !client.IsInRoom(roomID) {
		client.sendError(403, "您尚未訂閱該放映室", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sent, err := h.sendSnapshot(ctx, client, roomID, func(state *model.PlaybackState) *Message {
		msg, _ := NewMessage(MessageTypePlaybackState, NewPlaybackStatePayload(state, time.Now()))
		msg.RequestID = requestID
		return msg
	})
	if err != nil {
		client.sendAppError(err, requestID)
		return
	}
	if !sent {
		ack, _ := NewMessage(MessageTypeAck, &AckPayload{RequestID: requestID, Success: true})
		ack.RequestID = requestID
		client.SendMessage(ack)
	}
}

// snapshotAttempts bounds re-reads when broadcasts keep overtaking a snapshot
const snapshotAttempts = 3

// sendSnapshot reads the room's playback state and delivers the reply built
// from it through the client's version guard. A read that lost the race to a
// newer broadcast is retried. It reports false if every read was stale.
func (h *Hub) sendSnapshot(ctx context.Context, client *Client, roomID string, build func(*model.PlaybackState) *Message) (bool, error) {
	for i := 0; i < snapshotAttempts; i++ {
		state, err := h.session.GetPlaybackState(ctx, roomID)
		if err != nil {
			return false, err
		}
		data, err := json.Marshal(build(state))
		if err != nil {
			return false, err
		}
		if client.sendSnapshot(roomID, state.Version, data) {
			return true, nil
		}
	}
	return false, nil
}

func (h *Hub) dispatch(ctx context.Context, b *roomBroadcast) {
	data, err := json.Marshal(b.Message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.rooms[b.RoomID]))
	for client := range h.rooms[b.RoomID] {
		clients = append(clients, client)
	}

	switch b.Kind {
	case service.EventRoomDeleted:
		for _, client := range clients {
			h.removeFromRoomLocked(client, b.RoomID)
		}
	case service.EventMemberLeft:
		for _, client := range clients {
			if client.userID == b.UserID {
				h.removeFromRoomLocked(client, b.RoomID)
			}
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if b.Kind == service.EventPlaybackState {
			client.sendVersioned(b.RoomID, b.Version, data)
			continue
		}
		client.sendBytes(data)
	}

	if !b.remote {
		h.publishToRedis(ctx, b)
	}
}

// Redis Pub/Sub for horizontal scaling
func (h *Hub) publishToRedis(ctx context.Context, b *roomBroadcast) {
	if h.redis == nil || !h.opts.RedisFanout {
		return
	}

	data, err := json.Marshal(b)
	if err != nil {
		return
	}

	if err := h.redis.Publish(ctx, h.opts.Channel+b.RoomID, data).Err(); err != nil {
		h.logger.Warn("Failed to publish broadcast to redis",
			zap.String("room_id", b.RoomID),
			zap.Error(err),
		)
	}
}

// SubscribeRedis relays events committed on other instances to local
// clients until ctx is done
func (h *Hub) SubscribeRedis(ctx context.Context) error {
	if h.redis == nil || !h.opts.RedisFanout {
		return nil
	}

	pubsub := h.redis.PSubscribe(ctx, h.opts.Channel+"*")
	defer pubsub.Close()

	h.logger.Info("Subscribed to room fan-out",
		zap.String("pattern", h.opts.Channel+"*"),
		zap.String("instance_id", h.opts.InstanceID),
	)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b, err := h.decodeRemote(msg.Channel, msg.Payload)
			if err != nil {
				h.logger.Warn("Dropping malformed fan-out message",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			if b == nil {
				continue
			}
			h.enqueue(b)
		}
	}
}

// decodeRemote returns nil for messages this instance published itself
func (h *Hub) decodeRemote(channel, payload string) (*roomBroadcast, error) {
	var b roomBroadcast
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, err
	}
	if b.Origin == h.opts.InstanceID {
		return nil, nil
	}
	if b.Message == nil {
		return nil, errors.New("missing message")
	}
	if b.RoomID == "" {
		b.RoomID = strings.TrimPrefix(channel, h.opts.Channel)
	}
	b.remote = true
	return &b, nil
}

// GetRoomClients returns the number of clients in a room
func (h *Hub) GetRoomClients(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// IsUserOnline checks if a user has any open connection on this instance
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]int{
		"total_clients":  len(h.clients),
		"online_users":   len(h.users),
		"active_rooms":   len(h.rooms),
		"dropped_events": int(atomic.LoadUint64(&h.dropped)),
	}
}

// GetRoomStats reports a room's subscriptions and how many of its members
// hold an open connection on this instance
func (h *Hub) GetRoomStats(ctx context.Context, roomID string) (map[string]int, error) {
	members, err := h.session.GetMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}

	online := 0
	for _, m := range members {
		if h.IsUserOnline(m.UserID) {
			online++
		}
	}

	return map[string]int{
		"subscribers":    h.GetRoomClients(roomID),
		"members":        len(members),
		"online_members": online,
	}, nil
}

// errorDetails converts error details for the wire
func errorDetails(err error) interface{} {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Details == nil {
		return nil
	}
	if state, ok := appErr.Details.(*model.PlaybackState); ok {
		return NewPlaybackStatePayload(state, time.Now())
	}
	return appErr.Details
}
