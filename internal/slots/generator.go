// Package slots produces the canonical set of bookable inspection windows.
package slots

import (
	"fmt"
	"time"

	"carinspect/internal/models"
)

// Window is the opening hours of one period.
type Window struct {
	Period models.Period
	Start  string
	End    string
}

var windows = []Window{
	{Period: models.PeriodMorning, Start: "09:00", End: "12:00"},
	{Period: models.PeriodAfternoon, Start: "13:00", End: "17:00"},
	{Period: models.PeriodNight, Start: "18:00", End: "20:00"},
}

// Windows returns the opening hours of every period in chronological order.
func Windows() []Window {
	out := make([]Window, len(windows))
	copy(out, windows)
	return out
}

// Generate returns unsaved calendar days for morning, afternoon and night of date.
func Generate(date time.Time) []models.CalendarDay {
	day := models.DateOf(date)
	out := make([]models.CalendarDay, 0, len(windows))
	for _, w := range windows {
		out = append(out, models.CalendarDay{
			Date:     day,
			Period:   w.Period,
			Slots:    split(w.Start, w.End),
			MaxSlots: models.DefaultMaxSlots,
			IsActive: true,
		})
	}
	return out
}

// ForPeriod returns the unsaved calendar day for a single period.
func ForPeriod(date time.Time, period models.Period) (models.CalendarDay, error) {
	for _, d := range Generate(date) {
		if d.Period == period {
			return d, nil
		}
	}
	return models.CalendarDay{}, fmt.Errorf("unknown period %q", period)
}

// Lookup returns the canonical slot for (period, startTime) without touching storage.
func Lookup(period models.Period, startTime string) (models.Slot, bool) {
	for _, w := range windows {
		if w.Period != period {
			continue
		}
		for _, s := range split(w.Start, w.End) {
			if s.StartTime == startTime {
				return s, true
			}
		}
	}
	return models.Slot{}, false
}

func split(start, end string) []models.Slot {
	from, _ := time.Parse(models.ClockLayout, start)
	to, _ := time.Parse(models.ClockLayout, end)

	var out []models.Slot
	for t := from; t.Add(models.SlotDuration).Compare(to) <= 0; t = t.Add(models.SlotDuration) {
		out = append(out, models.Slot{
			StartTime: t.Format(models.ClockLayout),
			EndTime:   t.Add(models.SlotDuration).Format(models.ClockLayout),
		})
	}
	return out
}
