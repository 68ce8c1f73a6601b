package availability

import "time"

// AvailableSlots returns start times within window where an interview of
// length duration would not overlap any busy interval. Starts before now are
// skipped.
func AvailableSlots(window Interval, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !window.End.After(window.Start) || window.Start.Add(duration).After(window.End) {
		return nil
	}

	var slots []time.Time
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if len(Conflicts(Interval{Start: t, End: t.Add(duration)}, busy)) == 0 {
			slots = append(slots, t)
		}
	}
	return slots
}
