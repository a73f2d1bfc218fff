package anticheat

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/domain"
)

// RejectReason identifies why a submission failed validation
type RejectReason string

const (
	ReasonImplausibleWPM         RejectReason = "implausible_wpm"
	ReasonInvalidAccuracy        RejectReason = "invalid_accuracy"
	ReasonInvalidDuration        RejectReason = "invalid_duration"
	ReasonTimestampOrder         RejectReason = "keystroke_timestamps_out_of_order"
	ReasonTimestampSpan          RejectReason = "keystroke_span_exceeds_duration"
	ReasonThroughputInconsistent RejectReason = "keystroke_count_inconsistent"
)

// Result is the outcome of validating one submission
type Result struct {
	Accepted bool
	Reason   RejectReason
}

// Validator sanity-checks submitted performance metrics before they are
// trusted. Rejection is a policy decision, not an error: the round result
// stands, only leaderboard propagation is suppressed.
type Validator struct {
	cfg    *config.AntiCheatConfig
	logger *slog.Logger
}

// NewValidator creates a new anti-cheat validator
func NewValidator(cfg *config.AntiCheatConfig, logger *slog.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// Validate checks metrics against the plausibility rules. The returned
// Result carries the rejection reason for moderation review.
func (v *Validator) Validate(metrics domain.SubmissionMetrics, durationMs int64, keystrokes []int64) Result {
	if durationMs <= 0 {
		return reject(ReasonInvalidDuration)
	}
	if metrics.Accuracy < 0 || metrics.Accuracy > 100 {
		return reject(ReasonInvalidAccuracy)
	}
	if metrics.WPM < 0 || metrics.WPM > v.cfg.MaxWPM {
		return reject(ReasonImplausibleWPM)
	}

	// Keystroke timestamps are millisecond offsets from round start. They
	// must be monotonically non-decreasing and span no more than the
	// reported duration plus tolerance.
	if len(keystrokes) > 0 {
		prev := keystrokes[0]
		if prev < 0 {
			return reject(ReasonTimestampOrder)
		}
		for _, ts := range keystrokes[1:] {
			if ts < prev {
				return reject(ReasonTimestampOrder)
			}
			prev = ts
		}
		maxSpan := durationMs + v.cfg.DurationTolerance.Milliseconds()
		if keystrokes[len(keystrokes)-1]-keystrokes[0] > maxSpan {
			return reject(ReasonTimestampSpan)
		}
	}

	// The claimed WPM implies a character count over the session; the
	// keystroke count may not fall arbitrarily below it.
	impliedChars := metrics.WPM * 5 * (float64(durationMs) / 60000.0)
	if impliedChars > 0 && len(keystrokes) > 0 {
		if float64(len(keystrokes)) < impliedChars*(1-v.cfg.ThroughputSlack) {
			return reject(ReasonThroughputInconsistent)
		}
	}

	return Result{Accepted: true}
}

// ValidateSubmission applies Validate to a full score submission
func (v *Validator) ValidateSubmission(sub domain.ScoreSubmission) Result {
	res := v.Validate(sub.Metrics, sub.DurationMs, sub.Keystrokes)
	if !res.Accepted {
		v.logger.Info("submission rejected by anti-cheat",
			"player_id", sub.PlayerID,
			"game_type", sub.GameType,
			"session_id", sub.SessionID,
			"wpm", sub.Metrics.WPM,
			"duration", time.Duration(sub.DurationMs)*time.Millisecond,
			"reason", res.Reason,
		)
	}
	return res
}

func reject(reason RejectReason) Result {
	return Result{Accepted: false, Reason: reason}
}

// String implements fmt.Stringer for log correlation
func (r Result) String() string {
	if r.Accepted {
		return "accepted"
	}
	return fmt.Sprintf("rejected(%s)", r.Reason)
}
