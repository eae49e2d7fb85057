package scanner

import "time"

// marketOpen reports whether US equities are trading at t. Regular
// session is 09:30-16:00 ET, extended is 04:00-20:00 ET, weekdays only.
// Exchange holidays are not modeled; a closed-holiday cycle just finds
// no new bars.
func marketOpen(t time.Time, extended bool) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return true
	}
	et := t.In(loc)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	if extended {
		return minutes >= 4*60 && minutes < 20*60
	}
	return minutes >= 9*60+30 && minutes < 16*60
}
