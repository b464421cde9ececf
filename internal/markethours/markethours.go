// Package markethours answers whether the US equity regular session is open.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Session describes a daily trading window in an exchange timezone.
type Session struct {
	Location *time.Location
	// Open and Close are offsets from local midnight.
	Open  time.Duration
	Close time.Duration
}

// NYSE returns the 09:30-16:00 America/New_York regular session.
func NYSE() (Session, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return Session{}, fmt.Errorf("load exchange timezone: %w", err)
	}
	return Session{Location: loc, Open: 9*time.Hour + 30*time.Minute, Close: 16 * time.Hour}, nil
}

// IsOpen reports whether t falls inside the session on a weekday. Exchange
// holidays are not modelled.
func (s Session) IsOpen(t time.Time) bool {
	local := t.In(s.Location)
	if !IsWeekday(local) {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	offset := local.Sub(midnight)
	return offset >= s.Open && offset < s.Close
}

// NextOpen returns the first session open strictly after t.
func (s Session) NextOpen(t time.Time) time.Time {
	local := t.In(s.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	for i := 0; i < 8; i++ {
		open := day.Add(s.Open)
		if IsWeekday(day) && open.After(t) {
			return open
		}
		day = day.AddDate(0, 0, 1)
	}
	return day.Add(s.Open)
}

// IsWeekday reports Monday through Friday in t's location.
func IsWeekday(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
