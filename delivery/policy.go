package delivery

import (
	"time"

	"github.com/goliatone/go-chat-gateway/core"
)

// QuietHoursDeferral reports whether the recipient's local time is inside
// their quiet window and, when it is, the UTC instant of the window's end.
// A start greater than the end spans overnight; the end rolls to the next
// day when today's end has already passed. An equal start and end disables
// the window.
func QuietHoursDeferral(pref core.ContactPreference, now time.Time) (*time.Time, bool) {
	start, end, err := pref.QuietWindow()
	if err != nil || start == end {
		return nil, false
	}
	loc := pref.Location()
	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()

	inside := false
	if start > end {
		inside = minutes >= start || minutes < end
	} else {
		inside = minutes >= start && minutes < end
	}
	if !inside {
		return nil, false
	}

	endToday := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !endToday.After(local) {
		endToday = endToday.AddDate(0, 0, 1)
	}
	deferred := endToday.UTC()
	return &deferred, true
}

// Backoff computes the retry delay for the given class from the
// notification's retry count: base doubled per retry, capped per class.
func Backoff(cfg core.DeliveryConfig, class core.DeliveryClass, retryCount int) time.Duration {
	base := cfg.RetryBaseBackoff
	maximum := cfg.RetryMaxBackoff
	fallbackBase := 30 * time.Second
	fallbackMax := 900 * time.Second
	if class == core.DeliveryClassDefer {
		base = cfg.RateLimitBaseBackoff
		maximum = cfg.RateLimitMaxBackoff
		fallbackBase = 300 * time.Second
		fallbackMax = 3600 * time.Second
	}
	if base <= 0 {
		base = fallbackBase
	}
	if maximum <= 0 {
		maximum = fallbackMax
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}
