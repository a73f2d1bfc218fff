package handler

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typing-arena/internal/domain"
	"github.com/typing-arena/internal/websocket"
)

type fakeRooms struct{}

func (f *fakeRooms) CreateRoom(_ context.Context, _ string, _ int, _, _ string) (*domain.Room, error) {
	return nil, domain.ErrInvalidGameType
}

func (f *fakeRooms) JoinRoom(_ context.Context, _, _, _ string) (*domain.Room, error) {
	return nil, domain.ErrRoomNotFound
}

func (f *fakeRooms) LeaveRoom(_ context.Context, _, _ string) (*domain.Room, error) {
	return nil, domain.ErrRoomNotFound
}

func (f *fakeRooms) SetReady(_ context.Context, _, _ string, _ bool) (*domain.Room, error) {
	return nil, domain.ErrRoomNotFound
}

func (f *fakeRooms) StartGame(_ context.Context, _ string) (*domain.Room, error) {
	return nil, domain.ErrRoomNotFound
}

type fakeMatches struct {
	cancelled []string
}

func (f *fakeMatches) Enqueue(_ context.Context, playerID, displayName, gameType string) (*domain.Ticket, error) {
	return &domain.Ticket{PlayerID: playerID, DisplayName: displayName}, nil
}

func (f *fakeMatches) Cancel(_ context.Context, playerID string) error {
	f.cancelled = append(f.cancelled, playerID)
	return nil
}

type fakeLobby struct {
	registered []string
	removed    []string
	touched    []string
}

func (f *fakeLobby) RegisterConnection(_ context.Context, playerID, _, _ string) error {
	f.registered = append(f.registered, playerID)
	return nil
}

func (f *fakeLobby) RemoveConnection(_ context.Context, playerID, _ string) {
	f.removed = append(f.removed, playerID)
}

func (f *fakeLobby) Touch(_ context.Context, playerID string) {
	f.touched = append(f.touched, playerID)
}

type fakeSessions struct {
	disconnected []string
	rejoinRoom   string
}

func (f *fakeSessions) StartSession(_ *domain.Room) error { return nil }

func (f *fakeSessions) Progress(_ domain.ProgressEvent) error { return nil }

func (f *fakeSessions) PlayerDisconnected(playerID string) {
	f.disconnected = append(f.disconnected, playerID)
}

func (f *fakeSessions) PlayerReconnected(_ string) (string, bool) {
	return f.rejoinRoom, f.rejoinRoom != ""
}

type fakeHub struct {
	connIDs     map[string]string
	roomJoins   []string
	broadcasts  []string
	playerSends []string
}

func newFakeHub() *fakeHub {
	return &fakeHub{connIDs: make(map[string]string)}
}

func (f *fakeHub) JoinRoomChannel(_, roomID string) { f.roomJoins = append(f.roomJoins, roomID) }

func (f *fakeHub) LeaveRoomChannel(_, _ string) {}

func (f *fakeHub) BroadcastRoom(roomID string, _ interface{}) {
	f.broadcasts = append(f.broadcasts, roomID)
}

func (f *fakeHub) NotifyMatched(playerID string, _ *domain.Room) {
	f.playerSends = append(f.playerSends, playerID)
}

func (f *fakeHub) NotifyQueueTimeout(playerID string, _ domain.GameType) {
	f.playerSends = append(f.playerSends, playerID)
}

func (f *fakeHub) ConnectionID(playerID string) string { return f.connIDs[playerID] }

func newTestGateway() (*Gateway, *fakeMatches, *fakeLobby, *fakeSessions, *fakeHub) {
	matches := &fakeMatches{}
	lobby := &fakeLobby{}
	sessions := &fakeSessions{}
	hub := newFakeHub()
	g := NewGateway(&fakeRooms{}, matches, lobby, sessions, slog.Default())
	g.SetHub(hub)
	return g, matches, lobby, sessions, hub
}

func TestOnDisconnectStaleConnectionKeepsPlayerActive(t *testing.T) {
	g, matches, lobby, sessions, hub := newTestGateway()

	// p1 reconnected fast: the hub's current connection is conn-2 when
	// the old conn-1 socket tears down.
	hub.connIDs["p1"] = "conn-2"
	g.OnDisconnect(context.Background(), "p1", "conn-1")

	assert.Empty(t, matches.cancelled, "queued ticket must survive a stale disconnect")
	assert.Empty(t, sessions.disconnected, "grace clock must not start for a connected player")
	// Presence cleanup still runs; the registry has its own staleness
	// guard keyed on connection id.
	assert.Equal(t, []string{"p1"}, lobby.removed)
}

func TestOnDisconnectCurrentConnectionFansOut(t *testing.T) {
	g, matches, _, sessions, _ := newTestGateway()

	g.OnDisconnect(context.Background(), "p1", "conn-1")

	assert.Equal(t, []string{"p1"}, matches.cancelled)
	assert.Equal(t, []string{"p1"}, sessions.disconnected)
}

func TestPingRefreshesPresence(t *testing.T) {
	g, _, lobby, _, _ := newTestGateway()

	reply, err := g.OnMessage(context.Background(), "p1", "Alice", &websocket.ClientMessage{
		Type: websocket.MessageTypePing,
	})
	require.NoError(t, err)

	msg, ok := reply.(websocket.Message)
	require.True(t, ok)
	assert.Equal(t, websocket.MessageTypePong, msg.Type)
	assert.Equal(t, []string{"p1"}, lobby.touched)
}

func TestOnConnectRejoinsHeldSeat(t *testing.T) {
	g, _, lobby, sessions, hub := newTestGateway()
	sessions.rejoinRoom = "room-9"

	g.OnConnect(context.Background(), "p1", "conn-1", "Alice")

	assert.Equal(t, []string{"p1"}, lobby.registered)
	assert.Equal(t, []string{"room-9"}, hub.roomJoins)
}