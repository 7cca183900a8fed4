package eta

import (
	"fmt"
	"math"
)

// FormatDuration renders a duration in minutes for display:
//
//	< 1 minute   "Arriving now"
//	< 60 minutes "N minutes" (N rounded, "1 minute" singular)
//	otherwise    "H hours M min", or "H hours" when M rounds to zero
func FormatDuration(minutes float64) string {
	if math.IsNaN(minutes) || minutes < 1 {
		return "Arriving now"
	}
	if minutes < 60 {
		n := int(math.Round(minutes))
		if n >= 60 {
			return "1 hour"
		}
		return fmt.Sprintf("%d %s", n, plural(n, "minute", "minutes"))
	}

	hours := int(math.Floor(minutes / 60))
	rest := int(math.Round(math.Mod(minutes, 60)))
	if rest == 60 {
		hours++
		rest = 0
	}
	h := fmt.Sprintf("%d %s", hours, plural(hours, "hour", "hours"))
	if rest == 0 {
		return h
	}
	return fmt.Sprintf("%s %d min", h, rest)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
