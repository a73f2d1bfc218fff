package leaderboard

import (
	"fmt"
	"time"

	"github.com/typing-arena/internal/domain"
)

// WindowKey returns the cache key fragment for the period window that
// contains t. Windows are calendar-aligned in UTC, so rollover needs no
// sweep: queries simply address a new key after the boundary.
func WindowKey(p domain.Period, t time.Time) string {
	t = t.UTC()
	switch p {
	case domain.PeriodDaily:
		return t.Format("2006-01-02")
	case domain.PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case domain.PeriodMonthly:
		return t.Format("2006-01")
	default:
		return "alltime"
	}
}

// WindowStart returns the UTC instant the period window containing t
// opened. All-time windows open at the zero time.
func WindowStart(p domain.Period, t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case domain.PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case domain.PeriodWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// ISO weeks start on Monday
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case domain.PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}
