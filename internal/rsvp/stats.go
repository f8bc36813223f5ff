package rsvp

import "time"

// StatusCounts is a per-status breakdown of an event's registrations.
type StatusCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`
	Waitlist  int `json:"waitlist"`
	Attended  int `json:"attended"`
	NoShow    int `json:"no_show"`
}

// Active returns the number of registrations occupying a capacity slot.
func (s StatusCounts) Active() int {
	return s.Confirmed + s.Attended
}

// Breakdown aggregates registrations by status. It is a pure function over
// the rows so it works against any store and is trivially testable.
func Breakdown(regs []Registration) StatusCounts {
	var c StatusCounts
	for _, r := range regs {
		c.Total++
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusConfirmed:
			c.Confirmed++
		case StatusCancelled:
			c.Cancelled++
		case StatusWaitlist:
			c.Waitlist++
		case StatusAttended:
			c.Attended++
		case StatusNoShow:
			c.NoShow++
		}
	}
	return c
}

// TrendPoint is one day of registration volume.
type TrendPoint struct {
	Date  string `json:"date"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

// DailyTrend buckets registrations by calendar day (UTC) over the trailing
// window ending at now. Days with no registrations are included with a zero
// count so the series is gap-free for charting.
func DailyTrend(regs []Registration, days int, now time.Time) []TrendPoint {
	if days <= 0 {
		days = 30
	}
	now = now.UTC()
	start := now.AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	counts := make(map[string]int, days)
	for _, r := range regs {
		t := r.RegisteredAt.UTC()
		if t.Before(start) || t.After(now) {
			continue
		}
		counts[t.Format("2006-01-02")]++
	}

	points := make([]TrendPoint, 0, days)
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		if day.After(now) {
			break
		}
		key := day.Format("2006-01-02")
		points = append(points, TrendPoint{Date: key, Count: counts[key]})
	}
	return points
}
