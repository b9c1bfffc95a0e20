package scanner

import "time"

// MarketHours describes one exchange session. The scan loop tightens its
// interval while the session is open and relaxes it outside.
type MarketHours struct {
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
	// Weekends are always closed. AlwaysOpen covers 24/7 venues like crypto.
	AlwaysOpen bool
}

// DefaultMarketHours returns an always-open session, the right default for
// crypto venues.
func DefaultMarketHours() MarketHours {
	return MarketHours{AlwaysOpen: true}
}

// IsOpen reports whether the market is trading at t.
func (m MarketHours) IsOpen(t time.Time) bool {
	if m.AlwaysOpen {
		return true
	}

	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	open := m.OpenHour*60 + m.OpenMin
	close := m.CloseHour*60 + m.CloseMin
	return minute >= open && minute < close
}
