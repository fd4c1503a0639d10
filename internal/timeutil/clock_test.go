package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v outside [%v, %v]", now, before, after)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}

	clock.Advance(90 * time.Minute)
	if got := clock.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("after Advance: %v", got)
	}
	if got := clock.Since(start); got != 90*time.Minute {
		t.Errorf("Since = %v", got)
	}

	later := start.Add(24 * time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("after Set: %v", clock.Now())
	}
}
