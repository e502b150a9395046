package domain

import "time"

const (
	DefaultDailyRate       = 1
	DefaultFineGranularity = 24 * time.Hour
)

// FineCalculator computes overdue fines. The rate is injected configuration
// so the core holds no process-wide mutable state.
type FineCalculator struct {
	DailyRate   int64
	Granularity time.Duration
}

func NewFineCalculator(dailyRate int64, granularity time.Duration) FineCalculator {
	if dailyRate < 0 {
		dailyRate = DefaultDailyRate
	}
	if granularity <= 0 {
		granularity = DefaultFineGranularity
	}
	return FineCalculator{DailyRate: dailyRate, Granularity: granularity}
}

// Fine is 0 when observedAt is on or before dueAt, otherwise the number of
// started granularity periods times the daily rate. A book returned one hour
// late owes a full day.
func (c FineCalculator) Fine(dueAt, observedAt time.Time) int64 {
	if !observedAt.After(dueAt) {
		return 0
	}
	elapsed := observedAt.Sub(dueAt)
	periods := int64(elapsed / c.Granularity)
	if elapsed%c.Granularity > 0 {
		periods++
	}
	return periods * c.DailyRate
}
