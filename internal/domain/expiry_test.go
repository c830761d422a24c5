package domain

import (
	"testing"
	"time"
)

func TestComputeExpiryUsesCalendarDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)
	got := ComputeExpiry(now, 30)
	want := time.Date(2024, 3, 31, 15, 4, 5, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ComputeExpiry = %v, want %v", got, want)
	}

	// Month-end rollover follows the calendar, not fixed-length months.
	now = time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)
	got = ComputeExpiry(now, 1)
	want = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ComputeExpiry rollover = %v, want %v", got, want)
	}
}

func TestComputeExpiryStrictlyAfterNow(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	for _, days := range []int{1, 7, 30, 365} {
		if expiry := ComputeExpiry(now, days); !expiry.After(now) {
			t.Fatalf("ComputeExpiry(now, %d) = %v is not after %v", days, expiry, now)
		}
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	if IsExpired(nil, now) {
		t.Fatalf("lifetime sentinel must never expire")
	}
	if IsExpired(&future, now) {
		t.Fatalf("future expiry reported expired")
	}
	if !IsExpired(&past, now) {
		t.Fatalf("past expiry not reported expired")
	}
	// Boundary: expiry == now is not yet expired (strict 'now > expiry').
	if IsExpired(&now, now) {
		t.Fatalf("expiry equal to now must not be expired")
	}
}

func TestTimeLeft(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in30 := ComputeExpiry(now, 30)

	if got := TimeLeft(&in30, now); got != 30*86400 {
		t.Fatalf("TimeLeft = %d, want %d", got, 30*86400)
	}
	if got := TimeLeft(nil, now); got != -1 {
		t.Fatalf("lifetime TimeLeft = %d, want -1", got)
	}
	past := now.Add(-time.Hour)
	if got := TimeLeft(&past, now); got != 0 {
		t.Fatalf("expired TimeLeft = %d, want 0", got)
	}
}
