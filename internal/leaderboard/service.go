package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/typing-arena/internal/anticheat"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// Store is the fast ranking store (Redis in production)
type Store interface {
	UpsertIfBetter(ctx context.Context, windowKey string, entry domain.LeaderboardEntry) (bool, error)
	TopEntries(ctx context.Context, gameType domain.GameType, windowKey string, n int) ([]domain.LeaderboardEntry, error)
	PlayerEntry(ctx context.Context, gameType domain.GameType, windowKey, playerID string) (*domain.LeaderboardEntry, error)
	PlayerRank(ctx context.Context, gameType domain.GameType, windowKey, playerID string) (int64, error)
	EntryCount(ctx context.Context, gameType domain.GameType, windowKey string) (int64, error)
}

// History is the durable submission record (Postgres in production)
type History interface {
	RecordSubmission(ctx context.Context, sub domain.ScoreSubmission, status domain.SubmissionStatus, rejectReason string) error
	UpsertBestEntry(ctx context.Context, entry domain.LeaderboardEntry) error
	PlayerStats(ctx context.Context, playerID string) (*domain.PlayerStats, error)
}

// Validator gates submissions before they are trusted
type Validator interface {
	ValidateSubmission(sub domain.ScoreSubmission) anticheat.Result
}

// Broadcaster pushes ranking updates to connected clients
type Broadcaster interface {
	BroadcastLeaderboardUpdate(gameType domain.GameType, entries []domain.LeaderboardEntry)
}

// SubmitResult is the outcome of a score submission
type SubmitResult struct {
	Accepted bool                      `json:"accepted"`
	Entries  []domain.LeaderboardEntry `json:"entries,omitempty"`
}

// Service provides business logic for leaderboard operations
type Service struct {
	store     Store
	history   History
	validator Validator
	hub       Broadcaster
	cfg       *config.LeaderboardConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new leaderboard service
func NewService(
	store Store,
	history History,
	validator Validator,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		history:   history,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetHub sets the broadcaster used for ranking update pushes
func (s *Service) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SubmitScore runs a submission through anti-cheat and, when accepted,
// upserts the per-period entries if the score improves them. Rejected
// submissions are recorded for moderation review and never ranked; the
// caller sees a non-accepted result, not an error.
func (s *Service) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*SubmitResult, error) {
	if sub.PlayerID == "" || sub.SessionID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := domain.ParseGameType(string(sub.GameType)); err != nil {
		return nil, err
	}
	if sub.PlayerKind == "" {
		sub.PlayerKind = domain.PlayerKindGuest
	}
	if sub.AchievedAt.IsZero() {
		sub.AchievedAt = s.now()
	}

	if res := s.validator.ValidateSubmission(sub); !res.Accepted {
		if err := s.history.RecordSubmission(ctx, sub, domain.SubmissionRejected, string(res.Reason)); err != nil {
			s.logger.Warn("failed to record rejected submission",
				"player_id", sub.PlayerID, "session_id", sub.SessionID, "error", err)
		}
		return &SubmitResult{Accepted: false}, nil
	}

	if err := s.history.RecordSubmission(ctx, sub, domain.SubmissionAccepted, ""); err != nil {
		s.logger.Warn("failed to record submission",
			"player_id", sub.PlayerID, "session_id", sub.SessionID, "error", err)
		// History lags are tolerated; the cache write decides the ranking.
	}

	entries := make([]domain.LeaderboardEntry, 0, len(domain.Periods))
	for _, period := range domain.Periods {
		entry := domain.LeaderboardEntry{
			PlayerID:    sub.PlayerID,
			PlayerKind:  sub.PlayerKind,
			DisplayName: sub.DisplayName,
			GameType:    sub.GameType,
			Period:      period,
			Score:       sub.Score,
			WPM:         sub.Metrics.WPM,
			Accuracy:    sub.Metrics.Accuracy,
			SessionID:   sub.SessionID,
			AchievedAt:  sub.AchievedAt,
		}
		windowKey := WindowKey(period, sub.AchievedAt)

		applied, err := s.store.UpsertIfBetter(ctx, windowKey, entry)
		if err != nil {
			return nil, fmt.Errorf("upserting %s entry: %w", period, err)
		}

		if applied {
			if err := s.history.UpsertBestEntry(ctx, entry); err != nil {
				s.logger.Warn("failed to persist best entry",
					"player_id", sub.PlayerID, "period", period, "error", err)
			}
			entries = append(entries, entry)
			continue
		}

		// Not an improvement: return the entry that stood
		existing, err := s.store.PlayerEntry(ctx, sub.GameType, windowKey, sub.PlayerID)
		if err == nil {
			entries = append(entries, *existing)
		}
	}

	if s.hub != nil {
		if top, err := s.GetTopPlayers(ctx, sub.GameType, domain.PeriodAllTime, 10); err == nil {
			s.hub.BroadcastLeaderboardUpdate(sub.GameType, top)
		}
	}

	return &SubmitResult{Accepted: true, Entries: entries}, nil
}

// SubmitScoreBatch submits multiple scores (Kafka ingestion path)
func (s *Service) SubmitScoreBatch(ctx context.Context, batch domain.BatchScoreSubmission) error {
	for _, sub := range batch.Scores {
		if _, err := s.SubmitScore(ctx, sub); err != nil {
			s.logger.Error("failed to submit score in batch",
				"player_id", sub.PlayerID,
				"game_type", sub.GameType,
				"error", err,
			)
			// Continue processing other scores
		}
	}
	return nil
}

// GetTopPlayers returns entries ordered by score descending, equal scores
// ordered by earlier achieved-at, truncated to limit.
func (s *Service) GetTopPlayers(ctx context.Context, gameType domain.GameType, period domain.Period, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	windowKey := WindowKey(period, s.now())
	entries, err := s.store.TopEntries(ctx, gameType, windowKey, limit+s.cfg.TieFetchBuffer)
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].AchievedAt.Before(entries[j].AchievedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}

// GetPlayerRank returns the 1-based rank of a player within a period's
// ranking, with Ranked=false when the player has no entry in the window.
func (s *Service) GetPlayerRank(ctx context.Context, playerID string, gameType domain.GameType, period domain.Period) (*domain.PlayerRanking, error) {
	windowKey := WindowKey(period, s.now())

	rank, err := s.store.PlayerRank(ctx, gameType, windowKey, playerID)
	if err != nil {
		if err == domain.ErrEntryNotFound {
			return &domain.PlayerRanking{GameType: gameType, Period: period, Ranked: false}, nil
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	ranking := &domain.PlayerRanking{GameType: gameType, Period: period, Rank: rank, Ranked: true}
	if entry, err := s.store.PlayerEntry(ctx, gameType, windowKey, playerID); err == nil {
		ranking.Score = entry.Score
	}
	if total, err := s.store.EntryCount(ctx, gameType, windowKey); err == nil {
		ranking.OutOf = total
	}
	return ranking, nil
}

// GetPlayerAllRankings returns ranks across every game type and period
func (s *Service) GetPlayerAllRankings(ctx context.Context, playerID string) ([]domain.PlayerRanking, error) {
	rankings := make([]domain.PlayerRanking, 0, len(domain.GameTypes)*len(domain.Periods))
	for _, gameType := range domain.GameTypes {
		for _, period := range domain.Periods {
			ranking, err := s.GetPlayerRank(ctx, playerID, gameType, period)
			if err != nil {
				s.logger.Warn("skipping ranking lookup",
					"player_id", playerID, "game_type", gameType, "period", period, "error", err)
				continue
			}
			rankings = append(rankings, *ranking)
		}
	}
	return rankings, nil
}

// GetFriendLeaderboard returns the ranking scoped to a player's social
// graph. The friend graph is an external collaborator; the scope
// currently degenerates to the requesting player themselves, so a player
// may only query their own id.
func (s *Service) GetFriendLeaderboard(ctx context.Context, requesterID, playerID string, gameType domain.GameType, period domain.Period) ([]domain.LeaderboardEntry, error) {
	if requesterID != playerID {
		return nil, domain.ErrUnauthorized
	}

	windowKey := WindowKey(period, s.now())
	entry, err := s.store.PlayerEntry(ctx, gameType, windowKey, playerID)
	if err != nil {
		if err == domain.ErrEntryNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting friend leaderboard: %w", err)
	}

	entry.Rank = 1
	return []domain.LeaderboardEntry{*entry}, nil
}

// GetPlayerStats aggregates the player's submission history
func (s *Service) GetPlayerStats(ctx context.Context, playerID string) (*domain.PlayerStats, error) {
	stats, err := s.history.PlayerStats(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player stats: %w", err)
	}
	return stats, nil
}
