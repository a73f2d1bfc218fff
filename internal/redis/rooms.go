package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// RoomStore is the Redis-backed projection of room state. It is the
// authority for live-latency decisions ("is this room full right now");
// Postgres remains the system of record for history.
type RoomStore struct {
	client *redis.Client
	cfg    *config.RoomConfig
	logger *slog.Logger
}

// NewRoomStore creates a new Redis room store
func NewRoomStore(client *redis.Client, cfg *config.RoomConfig, logger *slog.Logger) *RoomStore {
	return &RoomStore{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

func roomKey(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

func playerRoomKey(playerID string) string {
	return fmt.Sprintf("player:%s:room", playerID)
}

func roomLockKey(roomID string) string {
	return fmt.Sprintf("lock:room:%s", roomID)
}

const activeRoomsKey = "rooms:active"

// GetRoom loads a room projection from the cache
func (s *RoomStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("getting room: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("unmarshaling room: %w", err)
	}
	return &room, nil
}

// SaveRoom writes a room projection and keeps the active-rooms index in
// step with its status.
func (s *RoomStore) SaveRoom(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshaling room: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, roomKey(room.ID), data, s.cfg.CacheTTL)
	if room.Status == domain.RoomStatusFinished {
		pipe.SRem(ctx, activeRoomsKey, room.ID)
	} else {
		pipe.SAdd(ctx, activeRoomsKey, room.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving room: %w", err)
	}
	return nil
}

// DeleteRoom removes a room projection and its active-index entry
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, roomKey(roomID))
	pipe.SRem(ctx, activeRoomsKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

// SetPlayerRoom records the player→room reverse index
func (s *RoomStore) SetPlayerRoom(ctx context.Context, playerID, roomID string) error {
	err := s.client.Set(ctx, playerRoomKey(playerID), roomID, s.cfg.CacheTTL).Err()
	if err != nil {
		return fmt.Errorf("setting player room: %w", err)
	}
	return nil
}

// GetPlayerRoom resolves the room a player is currently seated in
func (s *RoomStore) GetPlayerRoom(ctx context.Context, playerID string) (string, error) {
	roomID, err := s.client.Get(ctx, playerRoomKey(playerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", domain.ErrRoomNotFound
		}
		return "", fmt.Errorf("getting player room: %w", err)
	}
	return roomID, nil
}

// ClearPlayerRoom drops the player→room reverse index entry
func (s *RoomStore) ClearPlayerRoom(ctx context.Context, playerID string) error {
	if err := s.client.Del(ctx, playerRoomKey(playerID)).Err(); err != nil {
		return fmt.Errorf("clearing player room: %w", err)
	}
	return nil
}

// ListActiveRooms returns every non-finished room projection. Index
// entries whose room record has expired are dropped as a side effect.
func (s *RoomStore) ListActiveRooms(ctx context.Context) ([]*domain.Room, error) {
	ids, err := s.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing active rooms: %w", err)
	}

	rooms := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			if err == domain.ErrRoomNotFound {
				s.client.SRem(ctx, activeRoomsKey, id)
				continue
			}
			s.logger.Warn("skipping unreadable room", "room_id", id, "error", err)
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// Lock acquires the per-room mutex anchored in the shared cache, so two
// service instances cannot both admit a player past maxPlayers. The
// returned function releases the lock.
func (s *RoomStore) Lock(ctx context.Context, roomID string) (func(), error) {
	key := roomLockKey(roomID)
	for attempt := 0; attempt <= s.cfg.LockRetries; attempt++ {
		ok, err := s.client.SetNX(ctx, key, "1", s.cfg.LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring room lock: %w", err)
		}
		if ok {
			return func() {
				if err := s.client.Del(context.Background(), key).Err(); err != nil {
					s.logger.Warn("failed to release room lock", "room_id", roomID, "error", err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.LockRetryDelay):
		}
	}
	return nil, domain.ErrRoomBusy
}
