package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// Store is the fast shared projection of room state (Redis in
// production). Lock is the per-room mutex anchored in the shared cache:
// every mutation on a room id runs single-writer across all instances.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	SaveRoom(ctx context.Context, room *domain.Room) error
	DeleteRoom(ctx context.Context, roomID string) error
	SetPlayerRoom(ctx context.Context, playerID, roomID string) error
	GetPlayerRoom(ctx context.Context, playerID string) (string, error)
	ClearPlayerRoom(ctx context.Context, playerID string) error
	ListActiveRooms(ctx context.Context) ([]*domain.Room, error)
	Lock(ctx context.Context, roomID string) (func(), error)
}

// Archive is the durable system of record (Postgres in production).
// Writes happen on state-transition boundaries and may lag the cache;
// archive failures are logged, never surfaced to the triggering client.
type Archive interface {
	SaveRoom(ctx context.Context, room *domain.Room) error
	RecordAudit(ctx context.Context, audit domain.RoomAudit) error
}

// Manager owns the room state machine: waiting → playing → finished,
// with an explicitly privileged administrative override.
type Manager struct {
	store   Store
	archive Archive
	cfg     *config.RoomConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a new room manager
func NewManager(store Store, archive Archive, cfg *config.RoomConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		archive: archive,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateRoom allocates a new waiting room with the creator seated first
func (m *Manager) CreateRoom(ctx context.Context, gameType string, maxPlayers int, creatorID, creatorName string) (*domain.Room, error) {
	gt, err := domain.ParseGameType(gameType)
	if err != nil {
		return nil, err
	}
	if maxPlayers <= 0 {
		maxPlayers = m.cfg.DefaultMaxPlayers
	}
	if maxPlayers > m.cfg.MaxPlayersLimit {
		maxPlayers = m.cfg.MaxPlayersLimit
	}

	room := &domain.Room{
		ID:         uuid.New().String(),
		GameType:   gt,
		Status:     domain.RoomStatusWaiting,
		MaxPlayers: maxPlayers,
		CreatedBy:  creatorID,
		CreatedAt:  m.now(),
		Members: []domain.RoomMember{{
			PlayerID:    creatorID,
			DisplayName: creatorName,
			JoinedAt:    m.now(),
		}},
	}

	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching new room: %w", err)
	}
	if err := m.store.SetPlayerRoom(ctx, creatorID, room.ID); err != nil {
		m.logger.Warn("failed to index creator room", "room_id", room.ID, "player_id", creatorID, "error", err)
	}
	m.archiveRoom(ctx, room)

	m.logger.Info("room created",
		"room_id", room.ID, "game_type", gt, "max_players", maxPlayers, "creator_id", creatorID)
	return room, nil
}

// JoinRoom seats a player in a waiting room. Joining a playing or
// finished room is rejected; a player already mid-session reconnects
// through the session coordinator instead.
func (m *Manager) JoinRoom(ctx context.Context, roomID string, playerID, displayName string) (*domain.Room, error) {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != domain.RoomStatusWaiting {
		return nil, domain.ErrRoomClosed
	}
	if room.Member(playerID) != nil {
		return nil, domain.ErrAlreadyInRoom
	}
	if room.IsFull() {
		return nil, domain.ErrRoomFull
	}

	room.Members = append(room.Members, domain.RoomMember{
		PlayerID:    playerID,
		DisplayName: displayName,
		JoinedAt:    m.now(),
	})

	// A write that cannot confirm the member-count invariant must not be
	// assumed successful.
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching join: %w", err)
	}
	if err := m.store.SetPlayerRoom(ctx, playerID, roomID); err != nil {
		m.logger.Warn("failed to index player room", "room_id", roomID, "player_id", playerID, "error", err)
	}

	m.logger.Info("player joined room", "room_id", roomID, "player_id", playerID, "members", len(room.Members))
	return room, nil
}

// LeaveRoom unseats a player. An emptied room transitions to finished
// rather than lingering as an orphaned waiting room.
func (m *Manager) LeaveRoom(ctx context.Context, roomID, playerID string) (*domain.Room, error) {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.RemoveMember(playerID) {
		return nil, domain.ErrNotInRoom
	}

	if err := m.store.ClearPlayerRoom(ctx, playerID); err != nil {
		m.logger.Warn("failed to clear player room index", "player_id", playerID, "error", err)
	}

	// An emptied room is finished: archive it, then drop the cached
	// copy rather than keeping an orphaned waiting room around.
	if len(room.Members) == 0 && room.Status != domain.RoomStatusFinished {
		room.Status = domain.RoomStatusFinished
		now := m.now()
		room.EndedAt = &now
		m.archiveRoom(ctx, room)
		if err := m.store.DeleteRoom(ctx, roomID); err != nil {
			m.logger.Warn("failed to drop empty room from cache", "room_id", roomID, "error", err)
		}
		m.logger.Info("room emptied and closed", "room_id", roomID)
		return room, nil
	}

	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching leave: %w", err)
	}

	m.logger.Info("player left room", "room_id", roomID, "player_id", playerID, "members", len(room.Members))
	return room, nil
}

// SetReady toggles a member's ready flag
func (m *Manager) SetReady(ctx context.Context, roomID, playerID string, ready bool) (*domain.Room, error) {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != domain.RoomStatusWaiting {
		return nil, domain.ErrRoomClosed
	}
	member := room.Member(playerID)
	if member == nil {
		return nil, domain.ErrNotInRoom
	}

	member.Ready = ready
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching ready: %w", err)
	}
	return room, nil
}

// StartGame transitions waiting → playing once every member is ready.
// With SoloStart enabled a single seated member may start alone.
func (m *Manager) StartGame(ctx context.Context, roomID string) (*domain.Room, error) {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	switch room.Status {
	case domain.RoomStatusPlaying:
		return nil, domain.ErrAlreadyStarted
	case domain.RoomStatusFinished:
		return nil, domain.ErrRoomClosed
	}

	soloBypass := m.cfg.SoloStart && len(room.Members) == 1
	if !room.AllReady() && !soloBypass {
		return nil, domain.ErrNotReady
	}

	room.Status = domain.RoomStatusPlaying
	now := m.now()
	room.StartedAt = &now

	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching start: %w", err)
	}
	m.archiveRoom(ctx, room)

	m.logger.Info("game started", "room_id", roomID, "game_type", room.GameType, "members", len(room.Members))
	return room, nil
}

// EndGame transitions playing → finished, idempotent when already
// finished.
func (m *Manager) EndGame(ctx context.Context, roomID string) (*domain.Room, error) {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomStatusFinished {
		return room, nil
	}

	room.Status = domain.RoomStatusFinished
	if room.EndedAt == nil {
		now := m.now()
		room.EndedAt = &now
	}

	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching end: %w", err)
	}
	m.archiveRoom(ctx, room)

	for _, member := range room.Members {
		if err := m.store.ClearPlayerRoom(ctx, member.PlayerID); err != nil {
			m.logger.Warn("failed to clear player room index",
				"room_id", roomID, "player_id", member.PlayerID, "error", err)
		}
	}

	m.logger.Info("game ended", "room_id", roomID, "game_type", room.GameType)
	return room, nil
}

// ForceStatus is the administrative override: it may set any status
// directly, bypassing the normal transition guards, and leaves an audit
// record. Forcing finished stamps ended-at if not already set.
func (m *Manager) ForceStatus(ctx context.Context, roomID, actorID string, to domain.RoomStatus, reason string) (*domain.Room, error) {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	audit := domain.RoomAudit{
		RoomID:     roomID,
		ActorID:    actorID,
		FromStatus: room.Status,
		ToStatus:   to,
		Reason:     reason,
		At:         m.now(),
	}

	room.Status = to
	if to == domain.RoomStatusFinished && room.EndedAt == nil {
		now := m.now()
		room.EndedAt = &now
	}

	if err := m.store.SaveRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("caching status override: %w", err)
	}
	m.archiveRoom(ctx, room)
	if err := m.archive.RecordAudit(ctx, audit); err != nil {
		m.logger.Warn("failed to record audit entry", "room_id", roomID, "error", err)
	}

	m.logger.Info("room status overridden",
		"room_id", roomID, "actor_id", actorID,
		"from", audit.FromStatus, "to", to, "reason", reason)
	return room, nil
}

// UpdateMemberMetrics refreshes a member's live metrics in the cache
// only; the durable record catches up via the reconciliation worker.
func (m *Manager) UpdateMemberMetrics(ctx context.Context, roomID, playerID string, metrics domain.LiveMetrics) error {
	unlock, err := m.store.Lock(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	member := room.Member(playerID)
	if member == nil {
		return domain.ErrNotInRoom
	}

	member.Metrics = metrics
	if err := m.store.SaveRoom(ctx, room); err != nil {
		return fmt.Errorf("caching member metrics: %w", err)
	}
	return nil
}

// GetRoom loads a room projection without locking
func (m *Manager) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return m.store.GetRoom(ctx, roomID)
}

// GetRoomByPlayerID reverse-looks-up the room a player is seated in, so
// clients need not remember their room id across reconnects. Index
// entries pointing at finished or vanished rooms are cleared.
func (m *Manager) GetRoomByPlayerID(ctx context.Context, playerID string) (*domain.Room, error) {
	roomID, err := m.store.GetPlayerRoom(ctx, playerID)
	if err != nil {
		return nil, err
	}

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			m.clearStaleIndex(ctx, playerID)
		}
		return nil, err
	}
	if room.Status == domain.RoomStatusFinished || room.Member(playerID) == nil {
		m.clearStaleIndex(ctx, playerID)
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// GetActiveRooms returns non-finished rooms for lobby browsing,
// optionally filtered by game type. Full rooms are skipped unless
// includeFull is set.
func (m *Manager) GetActiveRooms(ctx context.Context, gameTypeFilter string, includeFull bool) ([]*domain.Room, error) {
	rooms, err := m.store.ListActiveRooms(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*domain.Room, 0, len(rooms))
	for _, room := range rooms {
		if room.Status == domain.RoomStatusFinished {
			continue
		}
		if gameTypeFilter != "" && string(room.GameType) != gameTypeFilter {
			continue
		}
		if !includeFull && room.IsFull() {
			continue
		}
		filtered = append(filtered, room)
	}
	return filtered, nil
}

func (m *Manager) clearStaleIndex(ctx context.Context, playerID string) {
	if err := m.store.ClearPlayerRoom(ctx, playerID); err != nil {
		m.logger.Warn("failed to clear stale room index", "player_id", playerID, "error", err)
	}
}

// archiveRoom writes the durable record on a transition boundary.
// Failures are logged with identifiers for later correlation; the cache
// remains authoritative for live decisions.
func (m *Manager) archiveRoom(ctx context.Context, room *domain.Room) {
	if err := m.archive.SaveRoom(ctx, room); err != nil {
		m.logger.Warn("failed to archive room", "room_id", room.ID, "status", room.Status, "error", err)
	}
}
