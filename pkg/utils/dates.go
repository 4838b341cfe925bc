package utils

import "time"

// DayLayout is the wire and storage format of a calendar day.
const DayLayout = "2006-01-02"

// DayOf returns the calendar date of t, in t's own location, as midnight UTC.
// Activity days are stored as SQL DATE values, so a record written at
// 23:30 local time on the 4th belongs to the 4th regardless of the UTC
// offset.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats the calendar date of t.
func DayKey(t time.Time) string {
	return DayOf(t).Format(DayLayout)
}

// AddDays shifts a day returned by DayOf by n calendar days.
func AddDays(day time.Time, n int) time.Time {
	return day.AddDate(0, 0, n)
}
