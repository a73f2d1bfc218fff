package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/typing-arena/internal/domain"
)

// Message types pushed by the server
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeRoomUpdate        = "room_update"
	MessageTypeMatched           = "matched"
	MessageTypeQueueTimeout      = "queue_timeout"
	MessageTypeAck               = "ack"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message is the envelope for server-originated pushes that carry no
// type of their own.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// GameHandler receives connection lifecycle callbacks and dispatched
// client messages. It is implemented by the realtime gateway so the hub
// stays free of game semantics.
type GameHandler interface {
	OnConnect(ctx context.Context, playerID, connectionID, displayName string)
	OnDisconnect(ctx context.Context, playerID, connectionID string)
	OnMessage(ctx context.Context, playerID, displayName string, msg *ClientMessage) (interface{}, error)
}

// Hub maintains the set of active clients, indexed both by room for
// in-game broadcasts and by player for directed pushes. A player's
// newer connection displaces the older one in the player index.
type Hub struct {
	// Clients subscribed to a room's broadcasts, by room ID
	rooms map[string]map[*Client]bool

	// Latest connection per player
	players map[string]*Client

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound messages
	broadcast chan *envelope

	// Room subscription requests
	subscribe chan *subscriptionRequest

	// Room unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	handler GameHandler

	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	roomID string
}

// envelope is a marshaled payload with its routing target. Exactly one
// of roomID / playerID is set; neither means broadcast to everyone.
type envelope struct {
	roomID   string
	playerID string
	data     []byte
}

// NewHub creates a new Hub
func NewHub(handler GameHandler, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		players:     make(map[string]*Client),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *envelope, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		handler:     handler,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.players[client.playerID] = client
			h.mu.Unlock()
			if h.handler != nil {
				h.handler.OnConnect(h.ctx, client.playerID, client.id, client.displayName)
			}
			h.logger.Debug("client registered", "client_id", client.id, "player_id", client.playerID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Only drop the player index if this is still the
				// player's current connection.
				if h.players[client.playerID] == client {
					delete(h.players, client.playerID)
				}
				for roomID, clients := range h.rooms {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.rooms, roomID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			if h.handler != nil {
				h.handler.OnDisconnect(h.ctx, client.playerID, client.id)
			}
			h.logger.Debug("client unregistered", "client_id", client.id, "player_id", client.playerID)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.rooms[req.roomID]; !ok {
				h.rooms[req.roomID] = make(map[*Client]bool)
			}
			h.rooms[req.roomID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client joined room channel", "client_id", req.client.id, "room_id", req.roomID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.rooms[req.roomID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.rooms, req.roomID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client left room channel", "client_id", req.client.id, "room_id", req.roomID)

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) deliver(env *envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	push := func(client *Client) {
		select {
		case client.send <- env.data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}

	switch {
	case env.playerID != "":
		if client, ok := h.players[env.playerID]; ok {
			push(client)
		}
	case env.roomID != "":
		for client := range h.rooms[env.roomID] {
			push(client)
		}
	default:
		for client := range h.allClients {
			push(client)
		}
	}
}

func (h *Hub) enqueue(env *envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastRoom sends a payload to every client on a room's channel
func (h *Hub) BroadcastRoom(roomID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal room message", "error", err)
		return
	}
	h.enqueue(&envelope{roomID: roomID, data: data})
}

// SendPlayer sends a payload to a player's current connection
func (h *Hub) SendPlayer(playerID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal player message", "error", err)
		return
	}
	h.enqueue(&envelope{playerID: playerID, data: data})
}

// BroadcastLeaderboardUpdate pushes fresh rankings to every client
func (h *Hub) BroadcastLeaderboardUpdate(gameType domain.GameType, entries []domain.LeaderboardEntry) {
	data, err := json.Marshal(Message{
		Type: MessageTypeLeaderboardUpdate,
		Data: map[string]interface{}{
			"game_type": gameType,
			"entries":   entries,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("failed to marshal leaderboard update", "error", err)
		return
	}
	h.enqueue(&envelope{data: data})
}

// NotifyMatched tells a player their matchmaking ticket settled
func (h *Hub) NotifyMatched(playerID string, room *domain.Room) {
	h.SendPlayer(playerID, Message{
		Type:      MessageTypeMatched,
		Data:      room,
		Timestamp: time.Now(),
	})
}

// NotifyQueueTimeout tells a player their ticket expired unmatched
func (h *Hub) NotifyQueueTimeout(playerID string, gameType domain.GameType) {
	h.SendPlayer(playerID, Message{
		Type:      MessageTypeQueueTimeout,
		Data:      map[string]interface{}{"game_type": gameType},
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoomChannel subscribes a player's connection to a room's pushes
func (h *Hub) JoinRoomChannel(playerID, roomID string) {
	h.mu.RLock()
	client, ok := h.players[playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.subscribe <- &subscriptionRequest{client: client, roomID: roomID}
}

// LeaveRoomChannel unsubscribes a player's connection from a room
func (h *Hub) LeaveRoomChannel(playerID, roomID string) {
	h.mu.RLock()
	client, ok := h.players[playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.unsubscribe <- &subscriptionRequest{client: client, roomID: roomID}
}

// ConnectionID returns the player's current connection id, or "" when
// no connection is registered here. The gateway uses it to tell a real
// disconnect from an old socket closing after a fast reconnect.
func (h *Hub) ConnectionID(playerID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if client, ok := h.players[playerID]; ok {
		return client.id
	}
	return ""
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
