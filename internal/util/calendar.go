package util

import "time"

// DayKey returns the calendar date of t in UTC as YYYY-MM-DD. Daily series
// from different sources are aligned on this key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Years returns the span from start to end in fractional years, using the
// 365.25-day convention. Annualized statistics scale by this value.
func Years(start, end time.Time) float64 {
	if !end.After(start) {
		return 0
	}
	return end.Sub(start).Hours() / (24 * 365.25)
}
