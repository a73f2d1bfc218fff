package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id          string
	playerID    string
	displayName string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *slog.Logger
}

// ClientMessage is a typed request from the client. Which fields are
// meaningful depends on Type.
type ClientMessage struct {
	Type       string  `json:"type"`
	RoomID     string  `json:"room_id,omitempty"`
	GameType   string  `json:"game_type,omitempty"`
	MaxPlayers int     `json:"max_players,omitempty"`
	Ready      bool    `json:"ready,omitempty"`
	TypedChars int     `json:"typed_chars,omitempty"`
	Errors     int     `json:"errors,omitempty"`
	Position   int     `json:"position,omitempty"`
	Completed  bool    `json:"completed,omitempty"`
	Keystrokes []int64 `json:"keystrokes,omitempty"`
}

// Client message types
const (
	MessageTypeCreateRoom  = "create_room"
	MessageTypeJoinRoom    = "join_room"
	MessageTypeLeaveRoom   = "leave_room"
	MessageTypeReady       = "ready"
	MessageTypeStartGame   = "start_game"
	MessageTypeProgress    = "progress"
	MessageTypeEnqueue     = "enqueue"
	MessageTypeCancelQueue = "cancel_queue"
	MessageTypePing        = "ping"
)

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, playerID, displayName string, logger *slog.Logger) *Client {
	return &Client{
		id:          uuid.New().String(),
		playerID:    playerID,
		displayName: displayName,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		logger:      logger,
	}
}

// readPump pumps messages from the WebSocket connection to the gateway
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("invalid message format")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// handleMessage routes one client message through the gateway. Pings go
// through too, so idle keepalives still refresh the player's presence
// record.
func (c *Client) handleMessage(msg *ClientMessage) {
	if c.hub.handler == nil {
		c.sendError("service unavailable")
		return
	}

	reply, err := c.hub.handler.OnMessage(c.hub.ctx, c.playerID, c.displayName, msg)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	switch payload := reply.(type) {
	case nil:
	case Message:
		// The gateway built the full envelope (e.g. pong).
		c.sendPayload(payload)
	default:
		c.sendPayload(Message{
			Type:      MessageTypeAck,
			Data:      payload,
			Timestamp: time.Now(),
		})
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
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
				// The hub closed the channel
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

func (c *Client) sendPayload(msg Message) {
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errMsg string) {
	c.sendPayload(Message{
		Type:      MessageTypeError,
		Data:      map[string]string{"error": errMsg},
		Timestamp: time.Now(),
	})
}

// ServeWs handles WebSocket requests from peers. Identity comes from
// the player_id and display_name query parameters.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		http.Error(w, "player_id required", http.StatusBadRequest)
		return
	}
	displayName := r.URL.Query().Get("display_name")
	if displayName == "" {
		displayName = playerID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, playerID, displayName, logger)
	hub.Register(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id, "player_id", playerID)
}
