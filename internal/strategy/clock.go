package strategy

import "time"

// SecondZeroDelay is the wait until the next wall-clock second zero. It is
// zero when now already sits on second zero.
func SecondZeroDelay(now time.Time) time.Duration {
	if now.Second() == 0 {
		return 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute()+1, 0, 0, now.Location())
	return next.Sub(now)
}

// NextIntervalBoundary returns the first minute strictly after now whose
// minute-of-day is a multiple of interval.
func NextIntervalBoundary(now time.Time, interval int) time.Time {
	return nextBoundaryAfter(now, interval)
}

// NextSecond returns the next time strictly after now whose second is sec.
func NextSecond(now time.Time, sec int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), sec, 0, now.Location())
	if !t.After(now) {
		t = t.Add(time.Minute)
	}
	return t
}

// ExpireAt rounds now up to the next interval boundary; past second 30 an
// extra minute is pushed so the option never expires in under half a minute.
func ExpireAt(now time.Time, interval int) time.Time {
	base := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	if now.Second() > 30 {
		base = base.Add(time.Minute)
	}
	return nextBoundaryAfter(base, interval)
}

func nextBoundaryAfter(t time.Time, interval int) time.Time {
	if interval < 1 {
		interval = 1
	}
	minuteOfDay := t.Hour()*60 + t.Minute()
	next := (minuteOfDay/interval + 1) * interval
	return time.Date(t.Year(), t.Month(), t.Day(), 0, next, 0, 0, t.Location())
}
