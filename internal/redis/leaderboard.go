package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/typing-arena/internal/domain"
)

// LeaderboardStore keeps one sorted set per (game type, period window),
// with a companion hash holding full entry data for hydration. Window
// rollover needs no sweep: queries always address the current window's key.
type LeaderboardStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboardStore creates a new Redis leaderboard store
func NewLeaderboardStore(client *redis.Client, logger *slog.Logger) *LeaderboardStore {
	return &LeaderboardStore{client: client, logger: logger}
}

func boardKey(gameType domain.GameType, windowKey string) string {
	return fmt.Sprintf("lb:%s:%s", gameType, windowKey)
}

func boardEntriesKey(gameType domain.GameType, windowKey string) string {
	return fmt.Sprintf("lb:%s:%s:entries", gameType, windowKey)
}

// UpsertIfBetter stores an entry only when its score beats the stored one
// (or no entry exists), reporting whether it was applied.
func (s *LeaderboardStore) UpsertIfBetter(ctx context.Context, windowKey string, entry domain.LeaderboardEntry) (bool, error) {
	key := boardKey(entry.GameType, windowKey)

	current, err := s.client.ZScore(ctx, key, entry.PlayerID).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("getting current score: %w", err)
	}
	if err == nil && float64(entry.Score) <= current {
		return false, nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshaling entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(entry.Score), Member: entry.PlayerID})
	pipe.HSet(ctx, boardEntriesKey(entry.GameType, windowKey), entry.PlayerID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("upserting entry: %w", err)
	}
	return true, nil
}

// TopEntries returns up to n hydrated entries ordered by score descending.
// Ordering among equal scores is settled by the service layer.
func (s *LeaderboardStore) TopEntries(ctx context.Context, gameType domain.GameType, windowKey string, n int) ([]domain.LeaderboardEntry, error) {
	key := boardKey(gameType, windowKey)
	members, err := s.client.ZRevRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	raw, err := s.client.HMGet(ctx, boardEntriesKey(gameType, windowKey), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("hydrating entries: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for i, v := range raw {
		data, ok := v.(string)
		if !ok {
			s.logger.Warn("leaderboard entry missing hydration data",
				"game_type", gameType, "player_id", members[i])
			continue
		}
		var entry domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			s.logger.Warn("skipping undecodable leaderboard entry",
				"game_type", gameType, "player_id", members[i], "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PlayerEntry returns a player's hydrated entry in a window
func (s *LeaderboardStore) PlayerEntry(ctx context.Context, gameType domain.GameType, windowKey, playerID string) (*domain.LeaderboardEntry, error) {
	data, err := s.client.HGet(ctx, boardEntriesKey(gameType, windowKey), playerID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("getting player entry: %w", err)
	}
	var entry domain.LeaderboardEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling entry: %w", err)
	}
	return &entry, nil
}

// PlayerRank returns the 1-based rank of a player in a window. Players
// with equal scores share a rank (count of strictly better scores + 1).
func (s *LeaderboardStore) PlayerRank(ctx context.Context, gameType domain.GameType, windowKey, playerID string) (int64, error) {
	key := boardKey(gameType, windowKey)

	score, err := s.client.ZScore(ctx, key, playerID).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, domain.ErrEntryNotFound
		}
		return 0, fmt.Errorf("getting player score: %w", err)
	}

	better, err := s.client.ZCount(ctx, key, fmt.Sprintf("(%f", score), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting better scores: %w", err)
	}
	return better + 1, nil
}

// EntryCount returns the number of ranked players in a window
func (s *LeaderboardStore) EntryCount(ctx context.Context, gameType domain.GameType, windowKey string) (int64, error) {
	n, err := s.client.ZCard(ctx, boardKey(gameType, windowKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting entry count: %w", err)
	}
	return n, nil
}

// BatchRestore rewrites a window's sorted set and hash from durable
// entries, used on startup recovery.
func (s *LeaderboardStore) BatchRestore(ctx context.Context, gameType domain.GameType, windowKey string, entries []domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		pipe.ZAdd(ctx, boardKey(gameType, windowKey), redis.Z{
			Score:  float64(entry.Score),
			Member: entry.PlayerID,
		})
		pipe.HSet(ctx, boardEntriesKey(gameType, windowKey), entry.PlayerID, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("restoring entries: %w", err)
	}
	return nil
}
