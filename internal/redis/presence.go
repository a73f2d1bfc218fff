package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/typing-arena/internal/domain"
)

const (
	presenceOnlineKey = "presence:online"
	presenceConnKey   = "presence:conn"
	presenceNameKey   = "presence:name"
	presenceSeenKey   = "presence:seen"
)

// PresenceStore keeps the online-player set and the player→connection and
// player→display-name lookups in the shared cache.
type PresenceStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPresenceStore creates a new Redis presence store
func NewPresenceStore(client *redis.Client, logger *slog.Logger) *PresenceStore {
	return &PresenceStore{client: client, logger: logger}
}

// Register records a connection, overwriting any prior record for the
// player (last-writer-wins on reconnect).
func (s *PresenceStore) Register(ctx context.Context, playerID, connectionID, displayName string) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, presenceOnlineKey, playerID)
	pipe.HSet(ctx, presenceConnKey, playerID, connectionID)
	pipe.HSet(ctx, presenceNameKey, playerID, displayName)
	pipe.HSet(ctx, presenceSeenKey, playerID, time.Now().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registering presence: %w", err)
	}
	return nil
}

// Remove deletes every trace of a player's presence
func (s *PresenceStore) Remove(ctx context.Context, playerID string) error {
	pipe := s.client.Pipeline()
	pipe.SRem(ctx, presenceOnlineKey, playerID)
	pipe.HDel(ctx, presenceConnKey, playerID)
	pipe.HDel(ctx, presenceNameKey, playerID)
	pipe.HDel(ctx, presenceSeenKey, playerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing presence: %w", err)
	}
	return nil
}

// Connection returns the connection id currently recorded for a player,
// or empty when the player is not online.
func (s *PresenceStore) Connection(ctx context.Context, playerID string) (string, error) {
	conn, err := s.client.HGet(ctx, presenceConnKey, playerID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading presence connection: %w", err)
	}
	return conn, nil
}

// Touch refreshes the last-seen timestamp
func (s *PresenceStore) Touch(ctx context.Context, playerID string) error {
	err := s.client.HSet(ctx, presenceSeenKey, playerID, time.Now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("touching presence: %w", err)
	}
	return nil
}

// List returns the raw presence records for every player in the online set
func (s *PresenceStore) List(ctx context.Context) ([]domain.PresenceRecord, error) {
	players, err := s.client.SMembers(ctx, presenceOnlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing online players: %w", err)
	}
	if len(players) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	connCmd := pipe.HMGet(ctx, presenceConnKey, players...)
	nameCmd := pipe.HMGet(ctx, presenceNameKey, players...)
	seenCmd := pipe.HMGet(ctx, presenceSeenKey, players...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loading presence records: %w", err)
	}

	conns := connCmd.Val()
	names := nameCmd.Val()
	seens := seenCmd.Val()

	records := make([]domain.PresenceRecord, 0, len(players))
	for i, playerID := range players {
		rec := domain.PresenceRecord{PlayerID: playerID}
		if v, ok := conns[i].(string); ok {
			rec.ConnectionID = v
		}
		if v, ok := names[i].(string); ok {
			rec.DisplayName = v
		}
		if v, ok := seens[i].(string); ok {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				rec.LastSeen = time.UnixMilli(ms)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
