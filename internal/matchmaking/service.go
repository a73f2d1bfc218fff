package matchmaking

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// Queue is the shared matchmaking queue (Redis in production)
type Queue interface {
	Push(ctx context.Context, t *domain.Ticket) error
	Remove(ctx context.Context, gameType domain.GameType, ticketID string) error
	TicketByPlayer(ctx context.Context, playerID string) (*domain.Ticket, error)
	Pending(ctx context.Context, gameType domain.GameType) ([]*domain.Ticket, error)
	Size(ctx context.Context, gameType domain.GameType) (int64, error)
	GetRating(ctx context.Context, gameType domain.GameType, playerID string, fallback int) (int, error)
	SetRating(ctx context.Context, gameType domain.GameType, playerID string, rating int) error
}

// RoomCreator seats matched players into a fresh room
type RoomCreator interface {
	CreateRoom(ctx context.Context, gameType string, maxPlayers int, creatorID, creatorName string) (*domain.Room, error)
	JoinRoom(ctx context.Context, roomID, playerID, displayName string) (*domain.Room, error)
}

// Notifier pushes matchmaking outcomes to connected players. A nil
// notifier is allowed for offline processing.
type Notifier interface {
	NotifyMatched(playerID string, room *domain.Room)
	NotifyQueueTimeout(playerID string, gameType domain.GameType)
}

// Service owns the matchmaking queues: enqueue, cancel, and the periodic
// matching pass that pairs tickets by rating proximity with a tolerance
// that widens the longer a ticket waits.
type Service struct {
	queue    Queue
	rooms    RoomCreator
	notifier Notifier
	cfg      *config.MatchmakingConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new matchmaking service
func NewService(queue Queue, rooms RoomCreator, cfg *config.MatchmakingConfig, logger *slog.Logger) *Service {
	return &Service{
		queue:  queue,
		rooms:  rooms,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetNotifier wires the realtime gateway once it exists
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Enqueue places a player in the queue for a game type. Re-enqueueing
// for the same game type returns the existing ticket; enqueueing for a
// different game type withdraws the old ticket and queues fresh, so a
// player is never waiting in two queues at once.
func (s *Service) Enqueue(ctx context.Context, playerID, displayName, gameType string) (*domain.Ticket, error) {
	gt, err := domain.ParseGameType(gameType)
	if err != nil {
		return nil, err
	}

	if existing, err := s.queue.TicketByPlayer(ctx, playerID); err == nil {
		if existing.GameType == gt {
			return existing, nil
		}
		if err := s.queue.Remove(ctx, existing.GameType, existing.ID); err != nil {
			return nil, err
		}
		s.logger.Info("ticket replaced",
			"player_id", playerID, "old_game_type", existing.GameType, "new_game_type", gt)
	}

	rating, err := s.queue.GetRating(ctx, gt, playerID, s.cfg.InitialRating)
	if err != nil {
		return nil, err
	}

	ticket := &domain.Ticket{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		DisplayName: displayName,
		GameType:    gt,
		Rating:      rating,
		EnqueuedAt:  s.now(),
		State:       domain.TicketStateQueued,
	}
	if err := s.queue.Push(ctx, ticket); err != nil {
		return nil, err
	}

	s.logger.Info("player enqueued",
		"player_id", playerID, "game_type", gt, "rating", rating, "ticket_id", ticket.ID)
	return ticket, nil
}

// Cancel withdraws a player's queued ticket
func (s *Service) Cancel(ctx context.Context, playerID string) error {
	ticket, err := s.queue.TicketByPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if err := s.queue.Remove(ctx, ticket.GameType, ticket.ID); err != nil {
		return err
	}
	s.logger.Info("ticket cancelled", "player_id", playerID, "ticket_id", ticket.ID)
	return nil
}

// Status reports the queue depth and a wait estimate for a game type.
// A shorter queue means fewer potential partners, so the estimate grows
// as the queue shrinks, floored at the configured minimum.
func (s *Service) Status(ctx context.Context, gameType string) (*domain.QueueStatus, error) {
	gt, err := domain.ParseGameType(gameType)
	if err != nil {
		return nil, err
	}
	size, err := s.queue.Size(ctx, gt)
	if err != nil {
		return nil, err
	}

	estimate := s.cfg.MinEstimate
	deficit := s.cfg.MatchSize - 1 - int(size)
	if deficit > 0 {
		estimate = s.cfg.MinEstimate * time.Duration(deficit+1)
	}

	return &domain.QueueStatus{
		GameType:             gt,
		QueueSize:            size,
		EstimatedWaitSeconds: int(estimate.Seconds()),
	}, nil
}

// Rating returns a player's current rating for a game type
func (s *Service) Rating(ctx context.Context, gameType domain.GameType, playerID string) (int, error) {
	return s.queue.GetRating(ctx, gameType, playerID, s.cfg.InitialRating)
}

// UpdateRatings applies one rated pairing outcome. Score is from the
// first player's perspective.
func (s *Service) UpdateRatings(ctx context.Context, gameType domain.GameType, strategy RatingStrategy, playerA, playerB string, scoreA float64) error {
	ratingA, err := s.queue.GetRating(ctx, gameType, playerA, s.cfg.InitialRating)
	if err != nil {
		return err
	}
	ratingB, err := s.queue.GetRating(ctx, gameType, playerB, s.cfg.InitialRating)
	if err != nil {
		return err
	}

	newA := strategy.Apply(ratingA, ratingB, scoreA)
	newB := strategy.Apply(ratingB, ratingA, 1.0-scoreA)

	if err := s.queue.SetRating(ctx, gameType, playerA, newA); err != nil {
		return err
	}
	if err := s.queue.SetRating(ctx, gameType, playerB, newB); err != nil {
		return err
	}

	s.logger.Info("ratings updated", "game_type", gameType,
		"player_a", playerA, "rating_a", newA, "player_b", playerB, "rating_b", newB)
	return nil
}

// Run drives the periodic matching pass until the context is cancelled
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("matchmaking loop started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("matchmaking loop stopped")
			return
		case <-ticker.C:
			for _, gt := range domain.GameTypes {
				s.MatchPass(ctx, gt)
			}
		}
	}
}

// MatchPass runs one matching round for a game type. Anchors are taken
// in enqueue order; each anchor matches with the closest-rated
// candidates whose gap fits BOTH tickets' current tolerances, with
// earlier enqueue breaking gap ties. Tickets past the maximum wait are
// dropped with a timeout notification.
func (s *Service) MatchPass(ctx context.Context, gameType domain.GameType) {
	tickets, err := s.queue.Pending(ctx, gameType)
	if err != nil {
		s.logger.Error("failed to read matchmaking queue", "game_type", gameType, "error", err)
		return
	}

	now := s.now()

	live := tickets[:0]
	for _, t := range tickets {
		if t.WaitingFor(now) > s.cfg.MaxWait {
			s.expire(ctx, t)
			continue
		}
		live = append(live, t)
	}

	used := make(map[string]bool)
	for i, anchor := range live {
		if used[anchor.ID] {
			continue
		}
		var cands []*domain.Ticket
		for _, cand := range live[i+1:] {
			if used[cand.ID] || !s.compatible(anchor, cand, now) {
				continue
			}
			cands = append(cands, cand)
		}
		if len(cands) < s.cfg.MatchSize-1 {
			continue
		}

		// Pending is enqueue-ordered, so a stable sort by gap leaves
		// equally close candidates in enqueue order.
		sort.SliceStable(cands, func(x, y int) bool {
			return ratingGap(anchor, cands[x]) < ratingGap(anchor, cands[y])
		})

		group := append([]*domain.Ticket{anchor}, cands[:s.cfg.MatchSize-1]...)
		for _, t := range group {
			used[t.ID] = true
		}
		s.formMatch(ctx, group)
	}
}

func ratingGap(a, b *domain.Ticket) int {
	gap := a.Rating - b.Rating
	if gap < 0 {
		gap = -gap
	}
	return gap
}

// tolerance widens with wait time so isolated ratings eventually match
func (s *Service) tolerance(t *domain.Ticket, now time.Time) int {
	tol := s.cfg.BaseTolerance + s.cfg.ToleranceGrowth*int(t.WaitingFor(now).Seconds())
	if tol > s.cfg.MaxTolerance {
		tol = s.cfg.MaxTolerance
	}
	return tol
}

func (s *Service) compatible(a, b *domain.Ticket, now time.Time) bool {
	gap := ratingGap(a, b)
	return gap <= s.tolerance(a, now) && gap <= s.tolerance(b, now)
}

// formMatch seats a matched group in a fresh room. The earliest ticket's
// player creates the room and the rest join it. Tickets are removed per
// player as each is seated, so a partial failure leaves the unseated
// players queued for the next pass.
func (s *Service) formMatch(ctx context.Context, group []*domain.Ticket) {
	creator := group[0]
	room, err := s.rooms.CreateRoom(ctx, string(creator.GameType), len(group), creator.PlayerID, creator.DisplayName)
	if err != nil {
		s.logger.Error("failed to create match room",
			"game_type", creator.GameType, "player_id", creator.PlayerID, "error", err)
		return
	}
	s.settle(ctx, creator, room)

	for _, t := range group[1:] {
		if _, err := s.rooms.JoinRoom(ctx, room.ID, t.PlayerID, t.DisplayName); err != nil {
			s.logger.Error("failed to seat matched player",
				"room_id", room.ID, "player_id", t.PlayerID, "error", err)
			continue
		}
		s.settle(ctx, t, room)
	}

	s.logger.Info("match formed", "room_id", room.ID, "game_type", room.GameType, "players", len(group))
}

func (s *Service) settle(ctx context.Context, t *domain.Ticket, room *domain.Room) {
	if err := s.queue.Remove(ctx, t.GameType, t.ID); err != nil {
		s.logger.Warn("failed to remove matched ticket", "ticket_id", t.ID, "error", err)
	}
	if s.notifier != nil {
		s.notifier.NotifyMatched(t.PlayerID, room)
	}
}

func (s *Service) expire(ctx context.Context, t *domain.Ticket) {
	if err := s.queue.Remove(ctx, t.GameType, t.ID); err != nil {
		s.logger.Warn("failed to remove expired ticket", "ticket_id", t.ID, "error", err)
	}
	if s.notifier != nil {
		s.notifier.NotifyQueueTimeout(t.PlayerID, t.GameType)
	}
	s.logger.Info("ticket expired", "ticket_id", t.ID, "player_id", t.PlayerID, "game_type", t.GameType)
}
