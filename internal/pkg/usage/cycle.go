package usage

import "time"

// CycleWindow returns the monthly billing cycle containing now. Cycles start
// on the anchor's day of month and time of day; days past the end of a short
// month are clamped. A zero anchor means calendar months.
func CycleWindow(anchor, now time.Time) (start, end time.Time) {
	now = now.UTC()
	if anchor.IsZero() {
		anchor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	anchor = anchor.UTC()

	y, m := now.Year(), now.Month()
	start = anchorIn(anchor, y, m)
	if start.After(now) {
		y, m = shiftMonth(y, m, -1)
		start = anchorIn(anchor, y, m)
	}
	ny, nm := shiftMonth(y, m, 1)
	return start, anchorIn(anchor, ny, nm)
}

func anchorIn(anchor time.Time, y int, m time.Month) time.Time {
	day := anchor.Day()
	if last := daysIn(y, m); day > last {
		day = last
	}
	return time.Date(y, m, day, anchor.Hour(), anchor.Minute(), anchor.Second(), 0, time.UTC)
}

func shiftMonth(y int, m time.Month, delta int) (int, time.Month) {
	t := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return t.Year(), t.Month()
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
