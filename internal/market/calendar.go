package market

import (
	"fmt"
	"sort"
	"time"
)

// Calendar describes the regular trading session in the exchange's local zone
type Calendar struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration // offset of the final bar of the session
}

// DefaultCalendar returns US equities regular hours, 09:30 to the 15:59 bar, New York time.
func DefaultCalendar() (Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return Calendar{}, fmt.Errorf("failed to load session timezone: %w", err)
	}
	return Calendar{
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    15*time.Hour + 59*time.Minute,
	}, nil
}

// NewCalendar builds a calendar from a zone name and "HH:MM" open/close strings
func NewCalendar(zone, open, close string) (Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Calendar{}, fmt.Errorf("invalid session timezone %q: %w", zone, err)
	}
	o, err := parseClock(open)
	if err != nil {
		return Calendar{}, fmt.Errorf("invalid session open: %w", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return Calendar{}, fmt.Errorf("invalid session close: %w", err)
	}
	if c <= o {
		return Calendar{}, fmt.Errorf("session close %s must be after open %s", close, open)
	}
	return Calendar{Location: loc, Open: o, Close: c}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (c Calendar) local(t time.Time) time.Time {
	if c.Location == nil {
		return t
	}
	return t.In(c.Location)
}

func (c Calendar) clock(t time.Time) time.Duration {
	lt := c.local(t)
	return time.Duration(lt.Hour())*time.Hour + time.Duration(lt.Minute())*time.Minute + time.Duration(lt.Second())*time.Second
}

// SessionKey returns the local trading date of t as YYYY-MM-DD
func (c Calendar) SessionKey(t time.Time) string {
	return c.local(t).Format("2006-01-02")
}

// IsTradingDay reports whether t's local date is a weekday
func (c Calendar) IsTradingDay(t time.Time) bool {
	wd := c.local(t).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// InSession reports whether t falls within regular hours, bounds inclusive
func (c Calendar) InSession(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	k := c.clock(t)
	return k >= c.Open && k <= c.Close
}

// IsFinalBar reports whether t is at or after the session's last bar
func (c Calendar) IsFinalBar(t time.Time) bool {
	return c.clock(t) >= c.Close
}

// SessionOpenAt returns the open instant for the local date of t
func (c Calendar) SessionOpenAt(t time.Time) time.Time {
	lt := c.local(t)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, lt.Location()).Add(c.Open)
}

// SessionCloseAt returns the final-bar instant for the local date of t
func (c Calendar) SessionCloseAt(t time.Time) time.Time {
	lt := c.local(t)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, lt.Location()).Add(c.Close)
}

// Session is one trading day's regular-hours bars in timestamp order
type Session struct {
	Key  string
	Bars []Bar
}

// SplitSessions sorts bars by time, drops bars outside regular hours and groups them
// by local trading date.
func (c Calendar) SplitSessions(bars []Bar) []Session {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var sessions []Session
	for _, b := range sorted {
		if !c.InSession(b.Time) {
			continue
		}
		key := c.SessionKey(b.Time)
		if n := len(sessions); n == 0 || sessions[n-1].Key != key {
			sessions = append(sessions, Session{Key: key})
		}
		last := &sessions[len(sessions)-1]
		last.Bars = append(last.Bars, b)
	}
	return sessions
}
