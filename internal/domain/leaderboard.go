package domain

import (
	"strings"
	"time"
)

// Period is a ranking time window over which leaderboard entries are scoped
type Period string

const (
	PeriodAllTime Period = "alltime"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists every ranking period
var Periods = []Period{PeriodAllTime, PeriodDaily, PeriodWeekly, PeriodMonthly}

// ParsePeriod validates a period string
func ParsePeriod(s string) (Period, error) {
	for _, p := range Periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", ErrInvalidRequest
}

// PlayerKind distinguishes registered accounts from guest sessions
type PlayerKind string

const (
	PlayerKindRegistered PlayerKind = "registered"
	PlayerKindGuest      PlayerKind = "guest"
)

// PlayerKindOf infers the kind from the player id convention: guest
// sessions carry a "guest-" prefix.
func PlayerKindOf(playerID string) PlayerKind {
	if strings.HasPrefix(playerID, "guest-") {
		return PlayerKindGuest
	}
	return PlayerKindRegistered
}

// SubmissionMetrics are the performance metrics attached to a score
type SubmissionMetrics struct {
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

// ScoreSubmission is a request to record a finished round's result
type ScoreSubmission struct {
	PlayerID    string            `json:"player_id"`
	PlayerKind  PlayerKind        `json:"player_kind"`
	DisplayName string            `json:"display_name"`
	GameType    GameType          `json:"game_type"`
	SessionID   string            `json:"session_id"`
	Score       int64             `json:"score"`
	Metrics     SubmissionMetrics `json:"metrics"`
	DurationMs  int64             `json:"duration_ms"`
	Keystrokes  []int64           `json:"keystrokes,omitempty"`
	AchievedAt  time.Time         `json:"achieved_at"`
}

// SubmissionStatus marks the anti-cheat outcome of a submission
type SubmissionStatus string

const (
	SubmissionAccepted SubmissionStatus = "accepted"
	SubmissionRejected SubmissionStatus = "rejected"
)

// LeaderboardEntry is the best score for one (player, game type, period)
type LeaderboardEntry struct {
	Rank        int64      `json:"rank,omitempty"`
	PlayerID    string     `json:"player_id"`
	PlayerKind  PlayerKind `json:"player_kind"`
	DisplayName string     `json:"display_name"`
	GameType    GameType   `json:"game_type"`
	Period      Period     `json:"period"`
	Score       int64      `json:"score"`
	WPM         float64    `json:"wpm"`
	Accuracy    float64    `json:"accuracy"`
	SessionID   string     `json:"session_id"`
	AchievedAt  time.Time  `json:"achieved_at"`
}

// PlayerRanking is one rank result within GetPlayerAllRankings
type PlayerRanking struct {
	GameType GameType `json:"game_type"`
	Period   Period   `json:"period"`
	Rank     int64    `json:"rank"`
	OutOf    int64    `json:"out_of"`
	Score    int64    `json:"score"`
	Ranked   bool     `json:"ranked"`
}

// GameTypeStats aggregates a player's submission history for one game type
type GameTypeStats struct {
	GameType    GameType `json:"game_type"`
	Rounds      int64    `json:"rounds"`
	BestScore   int64    `json:"best_score"`
	BestWPM     float64  `json:"best_wpm"`
	AvgWPM      float64  `json:"avg_wpm"`
	AvgAccuracy float64  `json:"avg_accuracy"`
}

// PlayerStats are lifetime counters derived from the submission history
type PlayerStats struct {
	PlayerID    string          `json:"player_id"`
	TotalRounds int64           `json:"total_rounds"`
	ByGameType  []GameTypeStats `json:"by_game_type"`
}

// BatchScoreSubmission carries multiple score submissions (Kafka path)
type BatchScoreSubmission struct {
	Scores []ScoreSubmission `json:"scores"`
}
