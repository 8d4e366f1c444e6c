// Package icron inspects cron schedules without running them.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo places a reference time between two firings of a schedule.
type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo parses a standard five-field expression (descriptors such as
// "@every 1m" and "@daily" are accepted) and finds the firings around refTime.
// Last is zero when the schedule has not fired within the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastBefore(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// lastBefore walks back an hour at a time until the schedule fires at or
// before ref, then walks forward to the latest such firing.
func lastBefore(schedule cron.Schedule, ref time.Time) time.Time {
	searchStart := ref.Add(-time.Minute)
	for i := range 366 * 24 {
		candidate := schedule.Next(searchStart.Add(-time.Duration(i) * time.Hour))
		if candidate.After(ref) {
			continue
		}
		for next := schedule.Next(candidate); !next.After(ref); next = schedule.Next(next) {
			candidate = next
		}
		return candidate
	}
	return time.Time{}
}
