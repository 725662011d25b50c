// Package market classifies wall-clock instants into trading sessions.
package market

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Phase names one slice of the trading day.
type Phase string

const (
	PhaseClosed  Phase = "closed"
	PhasePre     Phase = "pre"
	PhaseRegular Phase = "regular"
	PhaseAfter   Phase = "after"
)

// Extended-hours boundaries in minutes from midnight, venue local time.
const (
	preStartMin  = 4 * 60
	regularOpen  = 9*60 + 30
	afterEndMin  = 20 * 60
	regularClose = 16 * 60
)

// Clock answers market-hours questions for one venue.
type Clock struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

// ---------

// NewClock loads the exchange calendar for the given MIC (ISO 10383,
// e.g. "xnys"). When the MIC is unknown the clock falls back to a plain
// Monday-Friday 09:30-16:00 New York schedule.
func NewClock(mic string) *Clock {
	if mic == "" {
		mic = "xnys"
	}
	cal := calendar.GetCalendar(strings.ToLower(mic))
	if cal == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &Clock{loc: loc, fallback: true}
	}
	return &Clock{cal: cal, loc: cal.Loc}
}

// Location returns the venue time zone for display formatting.
func (c *Clock) Location() *time.Location { return c.loc }

// IsBusinessDay reports whether the venue trades on the date containing t.
func (c *Clock) IsBusinessDay(t time.Time) bool {
	t = t.In(c.loc)
	if c.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.cal.IsBusinessDay(t)
}

// IsOpen reports whether the regular session is trading at t.
func (c *Clock) IsOpen(t time.Time) bool {
	t = t.In(c.loc)
	if c.fallback {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
		min := t.Hour()*60 + t.Minute()
		return min >= regularOpen && min < regularClose
	}
	return c.cal.IsOpen(t)
}

// Session classifies t into a trading phase. Pre-market runs 04:00 to the
// regular open, after-hours from the regular close to 20:00; everything
// else on a business day, and all of a holiday or weekend, is closed.
func (c *Clock) Session(t time.Time) Phase {
	t = t.In(c.loc)
	if !c.IsBusinessDay(t) {
		return PhaseClosed
	}
	if c.IsOpen(t) {
		return PhaseRegular
	}
	min := t.Hour()*60 + t.Minute()
	switch {
	case min >= preStartMin && min < regularOpen:
		return PhasePre
	case min >= regularOpen && min < afterEndMin:
		return PhaseAfter
	default:
		return PhaseClosed
	}
}
