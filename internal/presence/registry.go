package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// Store is the shared presence projection (Redis in production)
type Store interface {
	Register(ctx context.Context, playerID, connectionID, displayName string) error
	Remove(ctx context.Context, playerID string) error
	Connection(ctx context.Context, playerID string) (string, error)
	Touch(ctx context.Context, playerID string) error
	List(ctx context.Context) ([]domain.PresenceRecord, error)
}

// RoomLookup resolves the room a player is currently seated in, used to
// derive in-room / in-game status for the lobby listing.
type RoomLookup interface {
	GetRoomByPlayerID(ctx context.Context, playerID string) (*domain.Room, error)
}

// Registry tracks which players are online and what they are doing.
// Presence is advisory: every operation degrades rather than failing
// the caller, since a stale lobby listing is better than a broken one.
type Registry struct {
	store  Store
	rooms  RoomLookup
	cfg    *config.PresenceConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a new presence registry
func NewRegistry(store Store, rooms RoomLookup, cfg *config.PresenceConfig, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		rooms:  rooms,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterConnection records a new connection for a player. A second
// connection for the same player overwrites the first: last writer wins.
func (r *Registry) RegisterConnection(ctx context.Context, playerID, connectionID, displayName string) error {
	if err := r.store.Register(ctx, playerID, connectionID, displayName); err != nil {
		return err
	}
	r.logger.Info("player online", "player_id", playerID, "connection_id", connectionID)
	return nil
}

// RemoveConnection drops a player's presence when the given connection
// closes. If the player already re-registered under a newer connection
// the record is left alone, so the overwrite from a fast reconnect is
// not undone by the old connection's teardown.
func (r *Registry) RemoveConnection(ctx context.Context, playerID, connectionID string) {
	current, err := r.store.Connection(ctx, playerID)
	if err != nil {
		r.logger.Warn("failed to check presence connection", "player_id", playerID, "error", err)
		return
	}
	if current != "" && current != connectionID {
		return
	}
	if err := r.store.Remove(ctx, playerID); err != nil {
		r.logger.Warn("failed to remove presence", "player_id", playerID, "error", err)
		return
	}
	r.logger.Info("player offline", "player_id", playerID, "connection_id", connectionID)
}

// Touch refreshes a player's last-seen timestamp
func (r *Registry) Touch(ctx context.Context, playerID string) {
	if err := r.store.Touch(ctx, playerID); err != nil {
		r.logger.Warn("failed to touch presence", "player_id", playerID, "error", err)
	}
}

// ListOnlinePlayers returns the lobby view: every online player with a
// derived status. Records whose last-seen exceeded the TTL are reaped
// lazily here. A failure on one record skips that record, never the
// whole listing.
func (r *Registry) ListOnlinePlayers(ctx context.Context) ([]domain.PresenceRecord, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := make([]domain.PresenceRecord, 0, len(records))
	for _, rec := range records {
		if !rec.LastSeen.IsZero() && now.Sub(rec.LastSeen) > r.cfg.TTL {
			if err := r.store.Remove(ctx, rec.PlayerID); err != nil {
				r.logger.Warn("failed to reap stale presence", "player_id", rec.PlayerID, "error", err)
			}
			continue
		}

		rec.Status = domain.PresenceOnline
		room, err := r.rooms.GetRoomByPlayerID(ctx, rec.PlayerID)
		switch {
		case err == nil:
			rec.RoomID = room.ID
			if room.Status == domain.RoomStatusPlaying {
				rec.Status = domain.PresenceInGame
			} else {
				rec.Status = domain.PresenceInRoom
			}
		case errors.Is(err, domain.ErrRoomNotFound):
			// Not seated anywhere.
		default:
			r.logger.Warn("failed to resolve player room for presence",
				"player_id", rec.PlayerID, "error", err)
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}
