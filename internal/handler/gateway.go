package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/typing-arena/internal/domain"
	"github.com/typing-arena/internal/websocket"
)

// roomOps is the slice of the room manager the gateway drives
type roomOps interface {
	CreateRoom(ctx context.Context, gameType string, maxPlayers int, creatorID, creatorName string) (*domain.Room, error)
	JoinRoom(ctx context.Context, roomID, playerID, displayName string) (*domain.Room, error)
	LeaveRoom(ctx context.Context, roomID, playerID string) (*domain.Room, error)
	SetReady(ctx context.Context, roomID, playerID string, ready bool) (*domain.Room, error)
	StartGame(ctx context.Context, roomID string) (*domain.Room, error)
}

// matchOps is the slice of the matchmaking service the gateway drives
type matchOps interface {
	Enqueue(ctx context.Context, playerID, displayName, gameType string) (*domain.Ticket, error)
	Cancel(ctx context.Context, playerID string) error
}

// presenceOps is the slice of the presence registry the gateway drives
type presenceOps interface {
	RegisterConnection(ctx context.Context, playerID, connectionID, displayName string) error
	RemoveConnection(ctx context.Context, playerID, connectionID string)
	Touch(ctx context.Context, playerID string)
}

// sessionOps is the slice of the session coordinator the gateway drives
type sessionOps interface {
	StartSession(room *domain.Room) error
	Progress(ev domain.ProgressEvent) error
	PlayerDisconnected(playerID string)
	PlayerReconnected(playerID string) (string, bool)
}

// realtimeHub is what the gateway needs from the WebSocket hub
type realtimeHub interface {
	JoinRoomChannel(playerID, roomID string)
	LeaveRoomChannel(playerID, roomID string)
	BroadcastRoom(roomID string, v interface{})
	NotifyMatched(playerID string, room *domain.Room)
	NotifyQueueTimeout(playerID string, gameType domain.GameType)
	ConnectionID(playerID string) string
}

// Gateway dispatches realtime client messages into the game services
// and fans connection lifecycle out to presence, the session grace
// clock, and room channels. It implements websocket.GameHandler.
type Gateway struct {
	rooms    roomOps
	matches  matchOps
	lobby    presenceOps
	sessions sessionOps
	hub      realtimeHub
	logger   *slog.Logger
}

// NewGateway creates a new realtime gateway
func NewGateway(
	rooms roomOps,
	matches matchOps,
	lobby presenceOps,
	sessions sessionOps,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		rooms:    rooms,
		matches:  matches,
		lobby:    lobby,
		sessions: sessions,
		logger:   logger,
	}
}

// SetHub wires the hub after construction; the hub also needs the
// gateway, so one side has to be set late.
func (g *Gateway) SetHub(hub realtimeHub) {
	g.hub = hub
}

// NotifyMatched implements matchmaking.Notifier: the matched player is
// pushed into the new room's channel and told where they ended up.
func (g *Gateway) NotifyMatched(playerID string, matchedRoom *domain.Room) {
	g.hub.JoinRoomChannel(playerID, matchedRoom.ID)
	g.hub.NotifyMatched(playerID, matchedRoom)
}

// NotifyQueueTimeout implements matchmaking.Notifier
func (g *Gateway) NotifyQueueTimeout(playerID string, gameType domain.GameType) {
	g.hub.NotifyQueueTimeout(playerID, gameType)
}

// OnConnect registers presence and, for a player mid-session, signals
// auto-rejoin and reattaches the room channel.
func (g *Gateway) OnConnect(ctx context.Context, playerID, connectionID, displayName string) {
	if err := g.lobby.RegisterConnection(ctx, playerID, connectionID, displayName); err != nil {
		g.logger.Warn("failed to register presence", "player_id", playerID, "error", err)
	}

	if roomID, held := g.sessions.PlayerReconnected(playerID); held {
		g.hub.JoinRoomChannel(playerID, roomID)
	}
}

// OnDisconnect drops presence and starts the session grace clock
func (g *Gateway) OnDisconnect(ctx context.Context, playerID, connectionID string) {
	g.lobby.RemoveConnection(ctx, playerID, connectionID)

	// On a fast reconnect the hub already holds a newer connection for
	// this player; the old socket going away must not orphan their
	// ticket or start the grace clock.
	if current := g.hub.ConnectionID(playerID); current != "" && current != connectionID {
		g.logger.Debug("stale connection closed",
			"player_id", playerID, "connection_id", connectionID, "current", current)
		return
	}

	// A queued ticket has no owner once its connection is gone.
	if err := g.matches.Cancel(ctx, playerID); err != nil && !errors.Is(err, domain.ErrTicketNotFound) {
		g.logger.Warn("failed to cancel ticket on disconnect", "player_id", playerID, "error", err)
	}

	g.sessions.PlayerDisconnected(playerID)
}

// OnMessage routes one typed client message
func (g *Gateway) OnMessage(ctx context.Context, playerID, displayName string, msg *websocket.ClientMessage) (interface{}, error) {
	g.lobby.Touch(ctx, playerID)

	switch msg.Type {
	case websocket.MessageTypePing:
		// Keepalive; the Touch above is the point.
		return websocket.Message{Type: websocket.MessageTypePong, Timestamp: time.Now()}, nil

	case websocket.MessageTypeCreateRoom:
		created, err := g.rooms.CreateRoom(ctx, msg.GameType, msg.MaxPlayers, playerID, displayName)
		if err != nil {
			return nil, err
		}
		g.hub.JoinRoomChannel(playerID, created.ID)
		return created, nil

	case websocket.MessageTypeJoinRoom:
		joined, err := g.rooms.JoinRoom(ctx, msg.RoomID, playerID, displayName)
		if err != nil {
			return nil, err
		}
		g.hub.JoinRoomChannel(playerID, joined.ID)
		g.broadcastRoomUpdate(joined)
		return joined, nil

	case websocket.MessageTypeLeaveRoom:
		left, err := g.rooms.LeaveRoom(ctx, msg.RoomID, playerID)
		if err != nil {
			return nil, err
		}
		g.hub.LeaveRoomChannel(playerID, msg.RoomID)
		g.broadcastRoomUpdate(left)
		return left, nil

	case websocket.MessageTypeReady:
		updated, err := g.rooms.SetReady(ctx, msg.RoomID, playerID, msg.Ready)
		if err != nil {
			return nil, err
		}
		g.broadcastRoomUpdate(updated)
		return updated, nil

	case websocket.MessageTypeStartGame:
		started, err := g.rooms.StartGame(ctx, msg.RoomID)
		if err != nil {
			return nil, err
		}
		if err := g.sessions.StartSession(started); err != nil {
			g.logger.Error("failed to start session", "room_id", started.ID, "error", err)
		}
		g.broadcastRoomUpdate(started)
		return started, nil

	case websocket.MessageTypeProgress:
		err := g.sessions.Progress(domain.ProgressEvent{
			RoomID:     msg.RoomID,
			PlayerID:   playerID,
			TypedChars: msg.TypedChars,
			Errors:     msg.Errors,
			Position:   msg.Position,
			Completed:  msg.Completed,
			Keystrokes: msg.Keystrokes,
			At:         time.Now(),
		})
		// Progress is fire-and-forget; no ack payload.
		return nil, err

	case websocket.MessageTypeEnqueue:
		return g.matches.Enqueue(ctx, playerID, displayName, msg.GameType)

	case websocket.MessageTypeCancelQueue:
		if err := g.matches.Cancel(ctx, playerID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cancelled"}, nil

	default:
		g.logger.Debug("unknown message type", "type", msg.Type, "player_id", playerID)
		return nil, domain.ErrInvalidRequest
	}
}

func (g *Gateway) broadcastRoomUpdate(r *domain.Room) {
	g.hub.BroadcastRoom(r.ID, websocket.Message{
		Type:      websocket.MessageTypeRoomUpdate,
		Data:      r,
		Timestamp: time.Now(),
	})
}