package leaderboard

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/typing-arena/internal/anticheat"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// memStore is an in-memory Store fake keyed like the Redis layout
type memStore struct {
	entries map[string]map[string]domain.LeaderboardEntry // board key → player → entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]map[string]domain.LeaderboardEntry)}
}

func (m *memStore) key(gameType domain.GameType, windowKey string) string {
	return string(gameType) + ":" + windowKey
}

func (m *memStore) UpsertIfBetter(_ context.Context, windowKey string, entry domain.LeaderboardEntry) (bool, error) {
	key := m.key(entry.GameType, windowKey)
	board, ok := m.entries[key]
	if !ok {
		board = make(map[string]domain.LeaderboardEntry)
		m.entries[key] = board
	}
	if current, ok := board[entry.PlayerID]; ok && entry.Score <= current.Score {
		return false, nil
	}
	board[entry.PlayerID] = entry
	return true, nil
}

func (m *memStore) TopEntries(_ context.Context, gameType domain.GameType, windowKey string, n int) ([]domain.LeaderboardEntry, error) {
	board := m.entries[m.key(gameType, windowKey)]
	out := make([]domain.LeaderboardEntry, 0, len(board))
	for _, e := range board {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memStore) PlayerEntry(_ context.Context, gameType domain.GameType, windowKey, playerID string) (*domain.LeaderboardEntry, error) {
	if e, ok := m.entries[m.key(gameType, windowKey)][playerID]; ok {
		return &e, nil
	}
	return nil, domain.ErrEntryNotFound
}

func (m *memStore) PlayerRank(_ context.Context, gameType domain.GameType, windowKey, playerID string) (int64, error) {
	board := m.entries[m.key(gameType, windowKey)]
	entry, ok := board[playerID]
	if !ok {
		return 0, domain.ErrEntryNotFound
	}
	var better int64
	for _, e := range board {
		if e.Score > entry.Score {
			better++
		}
	}
	return better + 1, nil
}

func (m *memStore) EntryCount(_ context.Context, gameType domain.GameType, windowKey string) (int64, error) {
	return int64(len(m.entries[m.key(gameType, windowKey)])), nil
}

// memHistory is an in-memory History fake
type memHistory struct {
	submissions []recordedSubmission
	best        map[string]domain.LeaderboardEntry
}

type recordedSubmission struct {
	sub    domain.ScoreSubmission
	status domain.SubmissionStatus
	reason string
}

func newMemHistory() *memHistory {
	return &memHistory{best: make(map[string]domain.LeaderboardEntry)}
}

func (m *memHistory) RecordSubmission(_ context.Context, sub domain.ScoreSubmission, status domain.SubmissionStatus, reason string) error {
	m.submissions = append(m.submissions, recordedSubmission{sub, status, reason})
	return nil
}

func (m *memHistory) UpsertBestEntry(_ context.Context, entry domain.LeaderboardEntry) error {
	m.best[entry.PlayerID+":"+string(entry.GameType)+":"+string(entry.Period)] = entry
	return nil
}

func (m *memHistory) PlayerStats(_ context.Context, playerID string) (*domain.PlayerStats, error) {
	stats := &domain.PlayerStats{PlayerID: playerID}
	for _, rec := range m.submissions {
		if rec.sub.PlayerID == playerID && rec.status == domain.SubmissionAccepted {
			stats.TotalRounds++
		}
	}
	return stats, nil
}

func newTestService(t *testing.T) (*Service, *memStore, *memHistory) {
	t.Helper()
	cfg := config.DefaultConfig()
	store := newMemStore()
	history := newMemHistory()
	validator := anticheat.NewValidator(&cfg.AntiCheat, slog.Default())
	svc := NewService(store, history, validator, &cfg.Leaderboard, slog.Default())
	return svc, store, history
}

func submission(playerID string, score int64, achievedAt time.Time) domain.ScoreSubmission {
	return domain.ScoreSubmission{
		PlayerID:    playerID,
		PlayerKind:  domain.PlayerKindRegistered,
		DisplayName: playerID,
		GameType:    domain.GameTypeBlink,
		SessionID:   "session-" + playerID,
		Score:       score,
		Metrics:     domain.SubmissionMetrics{WPM: 60, Accuracy: 95},
		DurationMs:  60000,
		AchievedAt:  achievedAt,
	}
}

func TestSubmitScoreCreatesEntryPerPeriod(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.SubmitScore(ctx, submission("p1", 500, time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Len(t, res.Entries, len(domain.Periods))
}

func TestSubmitScoreWorseScoreLeavesEntryUnchanged(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := svc.SubmitScore(ctx, submission("p1", 500, now))
	require.NoError(t, err)

	res, err := svc.SubmitScore(ctx, submission("p1", 300, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	top, err := svc.GetTopPlayers(ctx, domain.GameTypeBlink, domain.PeriodAllTime, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(500), top[0].Score)
}

func TestSubmitScoreRejectedByAntiCheatNeverRanked(t *testing.T) {
	svc, _, history := newTestService(t)
	ctx := context.Background()

	// Scenario: wpm 400 over a 10 second session with 5 keystrokes.
	sub := submission("p1", 900, time.Now().UTC())
	sub.Metrics = domain.SubmissionMetrics{WPM: 400, Accuracy: 100}
	sub.DurationMs = 10000
	sub.Keystrokes = []int64{0, 100, 200, 300, 400}

	res, err := svc.SubmitScore(ctx, sub)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	top, err := svc.GetTopPlayers(ctx, domain.GameTypeBlink, domain.PeriodAllTime, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	rank, err := svc.GetPlayerRank(ctx, "p1", domain.GameTypeBlink, domain.PeriodAllTime)
	require.NoError(t, err)
	assert.False(t, rank.Ranked)

	// The rejection is retained for moderation review.
	require.Len(t, history.submissions, 1)
	assert.Equal(t, domain.SubmissionRejected, history.submissions[0].status)
	assert.NotEmpty(t, history.submissions[0].reason)
}

func TestGetTopPlayersOrderingAndTieBreak(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	_, err := svc.SubmitScore(ctx, submission("low", 100, base))
	require.NoError(t, err)
	_, err = svc.SubmitScore(ctx, submission("tie-late", 300, base.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = svc.SubmitScore(ctx, submission("tie-early", 300, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = svc.SubmitScore(ctx, submission("high", 500, base))
	require.NoError(t, err)

	top, err := svc.GetTopPlayers(ctx, domain.GameTypeBlink, domain.PeriodAllTime, 10)
	require.NoError(t, err)
	require.Len(t, top, 4)

	assert.Equal(t, "high", top[0].PlayerID)
	assert.Equal(t, "tie-early", top[1].PlayerID)
	assert.Equal(t, "tie-late", top[2].PlayerID)
	assert.Equal(t, "low", top[3].PlayerID)
	for i, entry := range top {
		assert.Equal(t, int64(i+1), entry.Rank)
	}

	rank, err := svc.GetPlayerRank(ctx, "high", domain.GameTypeBlink, domain.PeriodAllTime)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rank.Rank)
	assert.EqualValues(t, 4, rank.OutOf)
}

func TestDailyEntryExpiresOnRolloverButStaysAllTime(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// An entry achieved one second before the daily rollover.
	achieved := time.Date(2026, 9, 1, 23, 59, 59, 0, time.UTC)
	svc.now = func() time.Time { return achieved }

	_, err := svc.SubmitScore(ctx, submission("p1", 500, achieved))
	require.NoError(t, err)

	top, err := svc.GetTopPlayers(ctx, domain.GameTypeBlink, domain.PeriodDaily, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)

	// After midnight the daily window rolls over.
	svc.now = func() time.Time { return achieved.Add(2 * time.Second) }

	top, err = svc.GetTopPlayers(ctx, domain.GameTypeBlink, domain.PeriodDaily, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	allTime, err := svc.GetTopPlayers(ctx, domain.GameTypeBlink, domain.PeriodAllTime, 10)
	require.NoError(t, err)
	require.Len(t, allTime, 1)
	assert.Equal(t, "p1", allTime[0].PlayerID)
}

func TestGetFriendLeaderboardSelfScopeOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetFriendLeaderboard(ctx, "p1", "p2", domain.GameTypeBlink, domain.PeriodAllTime)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.SubmitScore(ctx, submission("p1", 500, time.Now().UTC()))
	require.NoError(t, err)

	entries, err := svc.GetFriendLeaderboard(ctx, "p1", "p1", domain.GameTypeBlink, domain.PeriodAllTime)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].PlayerID)
}

func TestGetPlayerAllRankingsCoversEveryCombination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SubmitScore(ctx, submission("p1", 500, time.Now().UTC()))
	require.NoError(t, err)

	rankings, err := svc.GetPlayerAllRankings(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, rankings, len(domain.GameTypes)*len(domain.Periods))

	ranked := 0
	for _, r := range rankings {
		if r.Ranked {
			ranked++
			assert.Equal(t, domain.GameTypeBlink, r.GameType)
		}
	}
	assert.Equal(t, len(domain.Periods), ranked)
}
