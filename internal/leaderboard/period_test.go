package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/typing-arena/internal/domain"
)

func TestWindowKeyCalendarAlignment(t *testing.T) {
	at := time.Date(2026, 9, 1, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, "alltime", WindowKey(domain.PeriodAllTime, at))
	assert.Equal(t, "2026-09-01", WindowKey(domain.PeriodDaily, at))
	assert.Equal(t, "2026-W36", WindowKey(domain.PeriodWeekly, at))
	assert.Equal(t, "2026-09", WindowKey(domain.PeriodMonthly, at))
}

func TestWindowKeyRollsOverAtMidnightUTC(t *testing.T) {
	before := time.Date(2026, 9, 1, 23, 59, 59, 0, time.UTC)
	after := before.Add(time.Second)

	assert.NotEqual(t, WindowKey(domain.PeriodDaily, before), WindowKey(domain.PeriodDaily, after))
	assert.Equal(t, WindowKey(domain.PeriodAllTime, before), WindowKey(domain.PeriodAllTime, after))
}

func TestWindowKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	// 02:00 on Sep 2 local is still Sep 1 in UTC.
	local := time.Date(2026, 9, 2, 2, 0, 0, 0, loc)

	assert.Equal(t, "2026-09-01", WindowKey(domain.PeriodDaily, local))
}

func TestWindowStartWeeklyIsMonday(t *testing.T) {
	// 2026-09-01 is a Tuesday.
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	start := WindowStart(domain.PeriodWeekly, at)

	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), start)
}

func TestWindowStartMonthly(t *testing.T) {
	at := time.Date(2026, 9, 17, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), WindowStart(domain.PeriodMonthly, at))
}
