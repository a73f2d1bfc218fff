package room

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

type memStore struct {
	mu          sync.Mutex
	rooms       map[string]*domain.Room
	playerRooms map[string]string
	locks       map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		rooms:       make(map[string]*domain.Room),
		playerRooms: make(map[string]string),
		locks:       make(map[string]bool),
	}
}

func (s *memStore) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	clone := *room
	clone.Members = append([]domain.RoomMember(nil), room.Members...)
	return &clone, nil
}

func (s *memStore) SaveRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *room
	clone.Members = append([]domain.RoomMember(nil), room.Members...)
	s.rooms[room.ID] = &clone
	return nil
}

func (s *memStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *memStore) SetPlayerRoom(_ context.Context, playerID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerRooms[playerID] = roomID
	return nil
}

func (s *memStore) GetPlayerRoom(_ context.Context, playerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.playerRooms[playerID]
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	return roomID, nil
}

func (s *memStore) ClearPlayerRoom(_ context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.playerRooms, playerID)
	return nil
}

func (s *memStore) ListActiveRooms(_ context.Context) ([]*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if room.Status == domain.RoomStatusFinished {
			continue
		}
		clone := *room
		clone.Members = append([]domain.RoomMember(nil), room.Members...)
		rooms = append(rooms, &clone)
	}
	return rooms, nil
}

func (s *memStore) Lock(_ context.Context, roomID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[roomID] {
		return nil, domain.ErrRoomBusy
	}
	s.locks[roomID] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locks, roomID)
	}, nil
}

type memArchive struct {
	mu     sync.Mutex
	rooms  []*domain.Room
	audits []domain.RoomAudit
}

func (a *memArchive) SaveRoom(_ context.Context, room *domain.Room) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	clone := *room
	a.rooms = append(a.rooms, &clone)
	return nil
}

func (a *memArchive) RecordAudit(_ context.Context, audit domain.RoomAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audits = append(a.audits, audit)
	return nil
}

func newTestManager(t *testing.T, mutate func(*config.RoomConfig)) (*Manager, *memStore, *memArchive) {
	t.Helper()
	cfg := config.DefaultConfig().Room
	if mutate != nil {
		mutate(&cfg)
	}
	store := newMemStore()
	archive := &memArchive{}
	mgr := NewManager(store, archive, &cfg, slog.Default())
	return mgr, store, archive
}

func TestCreateRoomSeatsCreator(t *testing.T) {
	mgr, store, archive := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "typing-walk", 4, "p1", "Alice")
	require.NoError(t, err)

	assert.Equal(t, domain.RoomStatusWaiting, room.Status)
	assert.Equal(t, domain.GameTypeTypingWalk, room.GameType)
	assert.Equal(t, 4, room.MaxPlayers)
	require.Len(t, room.Members, 1)
	assert.Equal(t, "p1", room.Members[0].PlayerID)
	assert.False(t, room.Members[0].Ready)

	assert.Equal(t, room.ID, store.playerRooms["p1"])
	assert.Len(t, archive.rooms, 1)
}

func TestCreateRoomRejectsUnknownGameType(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)

	_, err := mgr.CreateRoom(context.Background(), "chess", 2, "p1", "Alice")
	assert.ErrorIs(t, err, domain.ErrInvalidGameType)
}

func TestCreateRoomClampsMaxPlayers(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "blink", 0, "p1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, 2, room.MaxPlayers)

	room, err = mgr.CreateRoom(ctx, "blink", 99, "p2", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 8, room.MaxPlayers)
}

func TestJoinRoom(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "falling-words", 3, "p1", "Alice")
	require.NoError(t, err)

	joined, err := mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	require.NoError(t, err)
	assert.Len(t, joined.Members, 2)
	assert.Equal(t, room.ID, store.playerRooms["p2"])
}

func TestJoinRoomDuplicate(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "falling-words", 3, "p1", "Alice")
	require.NoError(t, err)

	_, err = mgr.JoinRoom(ctx, room.ID, "p1", "Alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyInRoom)
}

func TestJoinRoomFull(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "falling-words", 2, "p1", "Alice")
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	require.NoError(t, err)

	_, err = mgr.JoinRoom(ctx, room.ID, "p3", "Carol")
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	// At no point may members exceed max_players.
	got, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 2)
}

func TestJoinRoomAfterStartRejected(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room := readyPair(t, mgr)
	_, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)

	_, err = mgr.JoinRoom(ctx, room.ID, "p3", "Carol")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestJoinRoomMissing(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)

	_, err := mgr.JoinRoom(context.Background(), "no-such-room", "p1", "Alice")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeaveRoomLastPlayerFinishesRoom(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "blink", 2, "p1", "Alice")
	require.NoError(t, err)

	left, err := mgr.LeaveRoom(ctx, room.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusFinished, left.Status)
	require.NotNil(t, left.EndedAt)

	_, ok := store.playerRooms["p1"]
	assert.False(t, ok)

	// The cached copy is dropped once the room empties.
	_, ok = store.rooms[room.ID]
	assert.False(t, ok)
}

func TestLeaveRoomNotSeated(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "blink", 2, "p1", "Alice")
	require.NoError(t, err)

	_, err = mgr.LeaveRoom(ctx, room.ID, "p9")
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestSetReadyAndStart(t *testing.T) {
	mgr, _, archive := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "typing-walk", 2, "p1", "Alice")
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	require.NoError(t, err)

	_, err = mgr.StartGame(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = mgr.SetReady(ctx, room.ID, "p1", true)
	require.NoError(t, err)
	_, err = mgr.StartGame(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = mgr.SetReady(ctx, room.ID, "p2", true)
	require.NoError(t, err)

	started, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusPlaying, started.Status)
	require.NotNil(t, started.StartedAt)

	// Create and start both produce a durable record.
	assert.GreaterOrEqual(t, len(archive.rooms), 2)
}

func TestStartGameTwice(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room := readyPair(t, mgr)
	_, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)

	_, err = mgr.StartGame(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyStarted)
}

func TestSoloStartBypass(t *testing.T) {
	mgr, _, _ := newTestManager(t, func(cfg *config.RoomConfig) {
		cfg.SoloStart = true
	})
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "falling-blocks", 4, "p1", "Alice")
	require.NoError(t, err)

	started, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusPlaying, started.Status)
}

func TestSoloStartBypassOnlyForSinglePlayer(t *testing.T) {
	mgr, _, _ := newTestManager(t, func(cfg *config.RoomConfig) {
		cfg.SoloStart = true
	})
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "falling-blocks", 4, "p1", "Alice")
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	require.NoError(t, err)

	_, err = mgr.StartGame(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestEndGameIdempotent(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	room := readyPair(t, mgr)
	_, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)

	ended, err := mgr.EndGame(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusFinished, ended.Status)
	require.NotNil(t, ended.EndedAt)
	firstEnd := *ended.EndedAt

	again, err := mgr.EndGame(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, firstEnd, *again.EndedAt)

	// Finished rooms drop out of the reverse index.
	_, ok := store.playerRooms["p1"]
	assert.False(t, ok)
	_, ok = store.playerRooms["p2"]
	assert.False(t, ok)
}

func TestForceStatusRecordsAudit(t *testing.T) {
	mgr, _, archive := newTestManager(t, nil)
	ctx := context.Background()

	room := readyPair(t, mgr)
	_, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)

	forced, err := mgr.ForceStatus(ctx, room.ID, "admin-1", domain.RoomStatusFinished, "stuck session")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusFinished, forced.Status)
	require.NotNil(t, forced.EndedAt)

	require.Len(t, archive.audits, 1)
	audit := archive.audits[0]
	assert.Equal(t, "admin-1", audit.ActorID)
	assert.Equal(t, domain.RoomStatusPlaying, audit.FromStatus)
	assert.Equal(t, domain.RoomStatusFinished, audit.ToStatus)
	assert.Equal(t, "stuck session", audit.Reason)
}

func TestForceStatusBypassesGuards(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	// Force playing with nobody ready, which StartGame would reject.
	room, err := mgr.CreateRoom(ctx, "blink", 2, "p1", "Alice")
	require.NoError(t, err)

	forced, err := mgr.ForceStatus(ctx, room.ID, "admin-1", domain.RoomStatusPlaying, "manual start")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStatusPlaying, forced.Status)
}

func TestGetRoomByPlayerID(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "typing-walk", 2, "p1", "Alice")
	require.NoError(t, err)

	got, err := mgr.GetRoomByPlayerID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
}

func TestGetRoomByPlayerIDClearsStaleIndex(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	room := readyPair(t, mgr)
	_, err := mgr.StartGame(ctx, room.ID)
	require.NoError(t, err)
	_, err = mgr.EndGame(ctx, room.ID)
	require.NoError(t, err)

	// Re-point the index at the finished room to simulate a stale entry.
	store.playerRooms["p1"] = room.ID
	_, err = mgr.GetRoomByPlayerID(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, ok := store.playerRooms["p1"]
	assert.False(t, ok)
}

func TestGetActiveRoomsFiltering(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	open, err := mgr.CreateRoom(ctx, "blink", 3, "p1", "Alice")
	require.NoError(t, err)
	full, err := mgr.CreateRoom(ctx, "blink", 1, "p2", "Bob")
	require.NoError(t, err)
	other, err := mgr.CreateRoom(ctx, "typing-walk", 3, "p3", "Carol")
	require.NoError(t, err)

	rooms, err := mgr.GetActiveRooms(ctx, "", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{open.ID, other.ID}, roomIDs(rooms))

	rooms, err = mgr.GetActiveRooms(ctx, "", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{open.ID, full.ID, other.ID}, roomIDs(rooms))

	rooms, err = mgr.GetActiveRooms(ctx, "blink", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{open.ID, full.ID}, roomIDs(rooms))
}

func TestUpdateMemberMetrics(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "typing-walk", 2, "p1", "Alice")
	require.NoError(t, err)

	metrics := domain.LiveMetrics{GrossWPM: 72.5, NetWPM: 68.1, Accuracy: 96.4, TypedChars: 120, Position: 3}
	require.NoError(t, mgr.UpdateMemberMetrics(ctx, room.ID, "p1", metrics))

	got, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, metrics, got.Member("p1").Metrics)

	err = mgr.UpdateMemberMetrics(ctx, room.ID, "p9", metrics)
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestMutationBlockedWhileLocked(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "blink", 2, "p1", "Alice")
	require.NoError(t, err)

	unlock, err := store.Lock(ctx, room.ID)
	require.NoError(t, err)

	_, err = mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	assert.ErrorIs(t, err, domain.ErrRoomBusy)

	unlock()
	_, err = mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	require.NoError(t, err)
}

// readyPair creates a two-player room with both members ready.
func readyPair(t *testing.T, mgr *Manager) *domain.Room {
	t.Helper()
	ctx := context.Background()
	room, err := mgr.CreateRoom(ctx, "typing-walk", 2, "p1", "Alice")
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "p2", "Bob")
	require.NoError(t, err)
	_, err = mgr.SetReady(ctx, room.ID, "p1", true)
	require.NoError(t, err)
	_, err = mgr.SetReady(ctx, room.ID, "p2", true)
	require.NoError(t, err)
	return room
}

func roomIDs(rooms []*domain.Room) []string {
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids
}
