package domain

import "time"

// ComputeExpiry advances now by the given number of calendar days. Calendar
// arithmetic (not days*86400 seconds) is intentional: around DST transitions
// the legacy behavior being modeled keeps the time-of-day, not the elapsed
// seconds.
func ComputeExpiry(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, days)
}

// IsExpired reports whether the expiry timestamp has passed. A nil expiry is
// the lifetime sentinel and never expires.
func IsExpired(expiry *time.Time, now time.Time) bool {
	if expiry == nil {
		return false
	}
	return now.After(*expiry)
}

// TimeLeft returns the remaining validity in whole seconds, or -1 for
// lifetime entitlements. Expired entitlements report 0.
func TimeLeft(expiry *time.Time, now time.Time) int64 {
	if expiry == nil {
		return -1
	}
	remaining := expiry.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}
