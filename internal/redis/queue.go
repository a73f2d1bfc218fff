package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/typing-arena/internal/domain"
)

// QueueStore keeps the per-game-type matchmaking queues in the shared
// cache: a sorted set ordered by enqueue time plus one record per ticket.
type QueueStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewQueueStore creates a new Redis queue store
func NewQueueStore(client *redis.Client, logger *slog.Logger) *QueueStore {
	return &QueueStore{
		client: client,
		ttl:    time.Hour,
		logger: logger,
	}
}

func queueKey(gameType domain.GameType) string {
	return fmt.Sprintf("mm:queue:%s", gameType)
}

func ticketKey(ticketID string) string {
	return fmt.Sprintf("mm:ticket:%s", ticketID)
}

func playerTicketKey(playerID string) string {
	return fmt.Sprintf("mm:player:%s:ticket", playerID)
}

func ratingKey(gameType domain.GameType) string {
	return fmt.Sprintf("mm:rating:%s", gameType)
}

// Push enqueues a ticket
func (s *QueueStore) Push(ctx context.Context, t *domain.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling ticket: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, ticketKey(t.ID), data, s.ttl)
	pipe.Set(ctx, playerTicketKey(t.PlayerID), t.ID, s.ttl)
	pipe.ZAdd(ctx, queueKey(t.GameType), redis.Z{
		Score:  float64(t.EnqueuedAt.UnixMilli()),
		Member: t.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing ticket: %w", err)
	}
	return nil
}

// Remove drops a ticket from its queue and deletes its record
func (s *QueueStore) Remove(ctx context.Context, gameType domain.GameType, ticketID string) error {
	t, err := s.Get(ctx, ticketID)
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, queueKey(gameType), ticketID)
	pipe.Del(ctx, ticketKey(ticketID))
	if err == nil {
		pipe.Del(ctx, playerTicketKey(t.PlayerID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing ticket: %w", err)
	}
	return nil
}

// Get loads a single ticket
func (s *QueueStore) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	data, err := s.client.Get(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("getting ticket: %w", err)
	}
	var t domain.Ticket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling ticket: %w", err)
	}
	return &t, nil
}

// TicketByPlayer resolves the queued ticket owned by a player, if any
func (s *QueueStore) TicketByPlayer(ctx context.Context, playerID string) (*domain.Ticket, error) {
	ticketID, err := s.client.Get(ctx, playerTicketKey(playerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("getting player ticket: %w", err)
	}
	return s.Get(ctx, ticketID)
}

// Pending returns the queue for a game type in enqueue order. Dangling
// sorted-set members whose ticket record has expired are dropped.
func (s *QueueStore) Pending(ctx context.Context, gameType domain.GameType) ([]*domain.Ticket, error) {
	ids, err := s.client.ZRange(ctx, queueKey(gameType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}

	tickets := make([]*domain.Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			if err == domain.ErrTicketNotFound {
				s.client.ZRem(ctx, queueKey(gameType), id)
				continue
			}
			s.logger.Warn("skipping unreadable ticket", "ticket_id", id, "error", err)
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// Size returns the current queue depth for a game type
func (s *QueueStore) Size(ctx context.Context, gameType domain.GameType) (int64, error) {
	n, err := s.client.ZCard(ctx, queueKey(gameType)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting queue size: %w", err)
	}
	return n, nil
}

// GetRating returns a player's skill rating for a game type, or the given
// fallback when the player has never been rated.
func (s *QueueStore) GetRating(ctx context.Context, gameType domain.GameType, playerID string, fallback int) (int, error) {
	v, err := s.client.HGet(ctx, ratingKey(gameType), playerID).Result()
	if err != nil {
		if err == redis.Nil {
			return fallback, nil
		}
		return 0, fmt.Errorf("getting rating: %w", err)
	}
	rating, err := strconv.Atoi(v)
	if err != nil {
		return fallback, nil
	}
	return rating, nil
}

// SetRating stores a player's skill rating for a game type
func (s *QueueStore) SetRating(ctx context.Context, gameType domain.GameType, playerID string, rating int) error {
	if err := s.client.HSet(ctx, ratingKey(gameType), playerID, rating).Err(); err != nil {
		return fmt.Errorf("setting rating: %w", err)
	}
	return nil
}
