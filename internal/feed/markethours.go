package feed

import "time"

// Trading window, minutes from midnight exchange-local.
const (
	marketOpenMinute  = 9*60 + 15
	marketCloseMinute = 15*60 + 30
)

// MarketHours decides whether the upstream feed is worth connecting to.
// ForceOpen bypasses the check for tests and off-hours replay.
type MarketHours struct {
	Location  *time.Location
	ForceOpen bool
}

// IsOpen reports whether t falls inside the Mon-Fri trading window.
func (h MarketHours) IsOpen(t time.Time) bool {
	if h.ForceOpen {
		return true
	}
	loc := h.Location
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := lt.Hour()*60 + lt.Minute()
	return minute >= marketOpenMinute && minute <= marketCloseMinute
}
