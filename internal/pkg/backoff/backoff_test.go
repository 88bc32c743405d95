package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelay_Bounds(t *testing.T) {
	b := Budget{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 8 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			if d < 100*time.Millisecond {
				t.Fatalf("Delay(%d) = %v, below 100ms floor", attempt, d)
			}
			if d > b.MaxDelay {
				t.Fatalf("Delay(%d) = %v, above max %v", attempt, d, b.MaxDelay)
			}
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	b := Budget{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := b.Sleep(ctx, 3)
	if err == nil {
		t.Error("Sleep() with cancelled context returned nil")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancellation")
	}
}
