package matchmaking

import "math"

// Outcome scores for a rated pairing.
const (
	OutcomeWin  = 1.0
	OutcomeDraw = 0.5
	OutcomeLoss = 0.0
)

// RatingStrategy adjusts a player's skill rating after a rated pairing.
// Score is 1 for a win, 0.5 for a draw and 0 for a loss.
type RatingStrategy interface {
	Apply(rating, opponent int, score float64) int
}

// Elo is the classic Elo update with a fixed K factor
type Elo struct {
	K int
}

// NewElo creates an Elo strategy with the given K factor
func NewElo(k int) *Elo {
	return &Elo{K: k}
}

// Apply returns the player's new rating against one opponent
func (e *Elo) Apply(rating, opponent int, score float64) int {
	expected := 1.0 / (1.0 + math.Pow(10, float64(opponent-rating)/400.0))
	return rating + int(math.Round(float64(e.K)*(score-expected)))
}
