package fingerprint

import (
	"fmt"
	"time"
)

// Day type values. Weekday numbering follows Monday=0 through Sunday=6, so
// Saturday and Sunday are the weekend.
const (
	DayWeekday = "weekday"
	DayWeekend = "weekend"
)

// TimeBucket discretises t into a bucket string sized by bucketMinutes.
//
// The 60-minute form is "HH-HH" with the right edge wrapping at midnight
// ("23-00"). The 30- and 15-minute forms are "HH:MM-HH:MM" aligned to the
// half- or quarter-hour. Any other positive size falls back to the generic
// "HH:MM-HH:MM" form computed from the minute-of-day index. Non-positive
// sizes are treated as 60.
func TimeBucket(t time.Time, bucketMinutes int) string {
	if bucketMinutes <= 0 {
		bucketMinutes = 60
	}
	hour := t.Hour()
	minute := t.Minute()

	switch bucketMinutes {
	case 60:
		return fmt.Sprintf("%02d-%02d", hour, (hour+1)%24)

	case 30:
		if minute < 30 {
			return fmt.Sprintf("%02d:00-%02d:30", hour, hour)
		}
		return fmt.Sprintf("%02d:30-%02d:00", hour, (hour+1)%24)

	case 15:
		start := (minute / 15) * 15
		end := start + 15
		endHour := hour
		if end == 60 {
			end = 0
			endHour = (hour + 1) % 24
		}
		return fmt.Sprintf("%02d:%02d-%02d:%02d", hour, start, endHour, end)

	default:
		total := hour*60 + minute
		index := total / bucketMinutes
		startMin := index * bucketMinutes
		endMin := startMin + bucketMinutes
		return fmt.Sprintf("%02d:%02d-%02d:%02d",
			startMin/60, startMin%60, endMin/60, endMin%60)
	}
}

// DayType classifies t as "weekday" or "weekend".
func DayType(t time.Time) string {
	// Go numbers Sunday=0; shift to Monday=0 so Saturday and Sunday land on
	// indexes 5 and 6.
	weekday := (int(t.Weekday()) + 6) % 7
	if weekday >= 5 {
		return DayWeekend
	}
	return DayWeekday
}

// AllTimeBuckets enumerates every bucket of the given size in day order.
// Used by the editor to populate time-bucket choices.
func AllTimeBuckets(bucketMinutes int) []string {
	if bucketMinutes <= 0 || 1440%bucketMinutes != 0 {
		bucketMinutes = 60
	}
	n := 1440 / bucketMinutes
	buckets := make([]string, 0, n)
	for i := 0; i < n; i++ {
		start := time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC).Add(time.Duration(i*bucketMinutes) * time.Minute)
		buckets = append(buckets, TimeBucket(start, bucketMinutes))
	}
	return buckets
}
