package availability

import "time"

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether a and b share any instant. Back-to-back intervals
// (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Conflicts returns the members of existing that overlap candidate, in order.
func Conflicts(candidate Interval, existing []Interval) []Interval {
	var out []Interval
	for _, e := range existing {
		if Overlaps(candidate, e) {
			out = append(out, e)
		}
	}
	return out
}

// WorkingHours is the daily window in minutes after UTC midnight.
type WorkingHours struct {
	StartMinuteUTC int
	EndMinuteUTC   int
}

// WithinWorkingHours checks slot against the window of the UTC day that
// contains slot.Start. The slot must start inside the window and end no
// later than its close.
func WithinWorkingHours(slot Interval, wh WorkingHours) bool {
	start := slot.Start.UTC()
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	dayStart := midnight.Add(time.Duration(wh.StartMinuteUTC) * time.Minute)
	dayEnd := midnight.Add(time.Duration(wh.EndMinuteUTC) * time.Minute)

	return !start.Before(dayStart) && start.Before(dayEnd) && !slot.End.After(dayEnd)
}

// DayWindow returns the working window of the given UTC calendar day.
func DayWindow(day time.Time, wh WorkingHours) Interval {
	d := day.UTC()
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return Interval{
		Start: midnight.Add(time.Duration(wh.StartMinuteUTC) * time.Minute),
		End:   midnight.Add(time.Duration(wh.EndMinuteUTC) * time.Minute),
	}
}
