package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/alarmcore/alarmcore/internal/backoff"
)

func TestNext_DoublesUntilCap(t *testing.T) {
	d := 500 * time.Millisecond
	ceiling := 2 * time.Second

	d = backoff.Next(d, ceiling)
	if d != time.Second {
		t.Fatalf("Next = %v, want 1s", d)
	}
	d = backoff.Next(d, ceiling)
	if d != 2*time.Second {
		t.Fatalf("Next = %v, want 2s (capped)", d)
	}
	d = backoff.Next(d, ceiling)
	if d != 2*time.Second {
		t.Fatalf("Next past cap = %v, want still 2s", d)
	}
}

func TestJitter_WithinTwentyPercent(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 50; i++ {
		j := backoff.Jitter(d)
		lo := time.Duration(float64(d) * 0.8)
		hi := time.Duration(float64(d) * 1.2)
		if j < lo || j > hi {
			t.Fatalf("Jitter(%v) = %v, outside [%v, %v]", d, j, lo, hi)
		}
	}
}

func TestSleepOrDone_ReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if backoff.SleepOrDone(ctx, time.Second) {
		t.Fatalf("SleepOrDone on cancelled context returned true")
	}
}

func TestSleepOrDone_ReturnsTrueAfterDelay(t *testing.T) {
	if !backoff.SleepOrDone(context.Background(), time.Millisecond) {
		t.Fatalf("SleepOrDone with live context and short delay returned false")
	}
}
