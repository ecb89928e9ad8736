package feed

import (
	"fmt"
	"time"
)

// TimeAgo renders how long before now a post was created.
func TimeAgo(createdAt, now time.Time) string {
	diff := now.Sub(createdAt)
	minutes := int(diff / time.Minute)
	if diff < 0 || minutes < 1 {
		return "just now"
	}
	if minutes < 60 {
		return plural(minutes, "minute")
	}
	hours := minutes / 60
	if hours < 24 {
		return plural(hours, "hour")
	}
	days := hours / 24
	if days < 7 {
		return plural(days, "day")
	}
	if weeks := days / 7; weeks < 4 {
		return plural(weeks, "week")
	}
	return createdAt.Format("1/2/2006")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
