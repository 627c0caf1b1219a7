package models

import (
	"strings"
	"time"
)

// Period partitions a calendar day into independently booked groups of slots.
type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
	PeriodNight     Period = "night"
)

// Periods lists all periods in chronological order.
var Periods = []Period{PeriodMorning, PeriodAfternoon, PeriodNight}

// ParsePeriod accepts a period name in any letter case.
func ParsePeriod(s string) (Period, bool) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Periods {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// Order returns the chronological position of the period within a day.
func (p Period) Order() int {
	for i, known := range Periods {
		if p == known {
			return i
		}
	}
	return len(Periods)
}

func (p Period) String() string { return string(p) }

// Slot is one half-hour window inside a CalendarDay. StartTime is its identity.
type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	IsBooked  bool   `json:"isBooked"`
	BookedBy  string `json:"bookedBy,omitempty"`
}

// CalendarDay holds the slots of one (date, period) pair.
type CalendarDay struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Period    Period    `json:"period"`
	Slots     []Slot    `json:"slots"`
	MaxSlots  int       `json:"maxSlots"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FindSlot returns the slot that starts at startTime.
func (d *CalendarDay) FindSlot(startTime string) (Slot, bool) {
	for _, s := range d.Slots {
		if s.StartTime == startTime {
			return s, true
		}
	}
	return Slot{}, false
}

// AvailableSlots returns free slots in chronological order.
func (d *CalendarDay) AvailableSlots() []Slot {
	free := make([]Slot, 0, len(d.Slots))
	for _, s := range d.Slots {
		if !s.IsBooked {
			free = append(free, s)
		}
	}
	return free
}

// BookedCount returns how many slots are currently held.
func (d *CalendarDay) BookedCount() int {
	n := 0
	for _, s := range d.Slots {
		if s.IsBooked {
			n++
		}
	}
	return n
}

// PeriodAvailability summarizes one period of a day for clients choosing a slot.
type PeriodAvailability struct {
	Period         Period `json:"period"`
	AvailableSlots []Slot `json:"availableSlots"`
	TotalSlots     int    `json:"totalSlots"`
	BookedSlots    int    `json:"bookedSlots"`
}

// Availability converts the day into its client-facing summary.
func (d *CalendarDay) Availability() PeriodAvailability {
	return PeriodAvailability{
		Period:         d.Period,
		AvailableSlots: d.AvailableSlots(),
		TotalSlots:     len(d.Slots),
		BookedSlots:    d.BookedCount(),
	}
}

// DateOf truncates t to its calendar date, keeping the date as seen in t's location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a normalized calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}
