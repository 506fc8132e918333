package tables

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"

	OpeningHour = 10
	ClosingHour = 23
)

// Slot is a booking date plus an hour-aligned start time.
type Slot struct {
	Date time.Time
	Hour int
}

func NewSlot(date time.Time, hour int) Slot {
	y, m, d := date.Date()
	return Slot{Date: time.Date(y, m, d, 0, 0, 0, 0, date.Location()), Hour: hour}
}

// DefaultSlot picks the next full hour. Before opening it is today at
// opening time, after the last bookable hour it is tomorrow at opening time.
func DefaultSlot(now time.Time) Slot {
	next := now.Hour() + 1
	switch {
	case next < OpeningHour:
		return NewSlot(now, OpeningHour)
	case next > ClosingHour:
		return NewSlot(now.AddDate(0, 0, 1), OpeningHour)
	}
	return NewSlot(now, next)
}

// ParseSlot accepts a YYYY-MM-DD date and a time given as HH, HH:mm or
// HH:mm:ss. Minutes and seconds are dropped.
func ParseSlot(date, clock string) (Slot, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return Slot{}, fmt.Errorf("parse booking date %q: %w", date, err)
	}
	hh, _, _ := strings.Cut(strings.TrimSpace(clock), ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Slot{}, fmt.Errorf("parse booking time %q: invalid hour", clock)
	}
	return NewSlot(d, h), nil
}

func (s Slot) IsZero() bool { return s.Date.IsZero() }

func (s Slot) DateParam() string { return s.Date.Format(DateLayout) }

func (s Slot) TimeParam() string { return fmt.Sprintf("%02d:00:00", s.Hour) }

// Matches reports whether a server-supplied date/time pair names this slot.
// Empty values match everything.
func (s Slot) Matches(date, clock string) bool {
	if date == "" && clock == "" {
		return true
	}
	other, err := ParseSlot(date, clock)
	if err != nil {
		return false
	}
	return other.DateParam() == s.DateParam() && other.Hour == s.Hour
}

func (s Slot) String() string { return s.DateParam() + " " + s.TimeParam() }
