package retry

import (
	"context"
	"testing"
	"time"
)

func TestBackOffDelaysGrowAndStayBounded(t *testing.T) {
	policy := Policy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    400 * time.Millisecond,
		MaxAttempts: 5,
	}

	bo := policy.NewBackOff()

	// Jitter spreads each delay by +/-25% around the raw interval
	bounds := []struct {
		min time.Duration
		max time.Duration
	}{
		{75 * time.Millisecond, 125 * time.Millisecond},
		{150 * time.Millisecond, 250 * time.Millisecond},
		{300 * time.Millisecond, 500 * time.Millisecond},
		{300 * time.Millisecond, 500 * time.Millisecond}, // capped at MaxDelay
		{300 * time.Millisecond, 500 * time.Millisecond},
	}

	for i, b := range bounds {
		d := bo.NextBackOff()
		if d < b.min || d > b.max {
			t.Errorf("delay %d = %v, want within [%v, %v]", i+1, d, b.min, b.max)
		}
	}
}

func TestBackOffSchedulesAreIndependent(t *testing.T) {
	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 3}

	first := policy.NewBackOff()
	first.NextBackOff()
	first.NextBackOff()

	// A second task's schedule must start over at the base delay
	second := policy.NewBackOff()
	if d := second.NextBackOff(); d > 125*time.Millisecond {
		t.Errorf("fresh schedule first delay = %v, want <= 125ms", d)
	}
}

func TestWithMaxAttempts(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3}

	tests := []struct {
		name     string
		override int
		want     int
	}{
		{"positive override", 5, 5},
		{"zero keeps default", 0, 3},
		{"negative keeps default", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.WithMaxAttempts(tt.override).MaxAttempts; got != tt.want {
				t.Errorf("WithMaxAttempts(%d) = %d, want %d", tt.override, got, tt.want)
			}
		})
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Minute); err == nil {
		t.Fatal("Wait on cancelled context returned nil, want context error")
	}
}

func TestWaitElapses(t *testing.T) {
	start := time.Now()
	if err := Wait(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, want >= 20ms", elapsed)
	}
}
