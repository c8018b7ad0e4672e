package quality

import "time"

// TimingInput describes when the send would happen relative to the
// recipient's plausible local time and their last touch.
type TimingInput struct {
	SendAt      time.Time
	LastTouchAt *time.Time
}

// ScoreTiming grades the send moment: business hours, recent-touch
// spacing, and day of week. Out of 100.
func ScoreTiming(t TimingInput) float64 {
	score := hourPoints(t.SendAt)
	score += recencyPoints(t.SendAt, t.LastTouchAt)
	score += dayPoints(t.SendAt.Weekday())
	return score
}

func hourPoints(at time.Time) float64 {
	weekend := at.Weekday() == time.Saturday || at.Weekday() == time.Sunday
	if weekend {
		return 10
	}
	switch h := at.Hour(); {
	case h >= 9 && h < 17:
		return 40
	case h >= 7 && h < 19:
		return 30
	default:
		return 20
	}
}

func recencyPoints(at time.Time, lastTouch *time.Time) float64 {
	if lastTouch == nil {
		return 30
	}
	since := at.Sub(*lastTouch)
	switch {
	case since >= 14*24*time.Hour:
		return 30
	case since >= 5*24*time.Hour:
		return 25
	case since >= 2*24*time.Hour:
		return 15
	default:
		return 5
	}
}

func dayPoints(day time.Weekday) float64 {
	switch day {
	case time.Tuesday, time.Wednesday, time.Thursday:
		return 30
	case time.Monday, time.Friday:
		return 20
	default:
		return 10
	}
}
