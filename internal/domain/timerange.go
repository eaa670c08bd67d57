package domain

import (
	"fmt"
	"slices"
	"time"
)

// TimeRange is a daily window in local wall-clock time, "HH:MM" to "HH:MM"
// inclusive. A range whose end is before its start wraps midnight.
type TimeRange struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks both bounds parse.
func (r TimeRange) Validate() error {
	if _, err := parseClock(r.Start); err != nil {
		return err
	}
	_, err := parseClock(r.End)
	return err
}

// Contains reports whether the wall-clock time of local lies in the range.
// An unparsable range contains nothing.
func (r TimeRange) Contains(local time.Time) bool {
	start, err := parseClock(r.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(r.End)
	if err != nil {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// MatchesDay reports whether local falls on one of days (0 = Sunday).
// An empty set matches every day.
func MatchesDay(days []int, local time.Time) bool {
	return len(days) == 0 || slices.Contains(days, int(local.Weekday()))
}

func validateDays(days []int) error {
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("day of week %d out of range 0-6", d)
		}
	}
	return nil
}
