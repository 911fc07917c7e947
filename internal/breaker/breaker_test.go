package breaker

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m-karlsen/inquest/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func testOptions() Options {
	return Options{
		FailureThreshold: 3,
		Window:           time.Minute,
		Cooldown:         50 * time.Millisecond,
	}
}

// transitionRecorder collects state changes for assertions
type transitionRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *transitionRecorder) record(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *transitionRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChange, len(r.changes))
	copy(out, r.changes)
	return out
}

var errSourceDown = errors.New("source returned 503")

func reportFailures(t *testing.T, b *Breakers, sourceID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := b.Allow(sourceID)
		if err != nil {
			t.Fatalf("Allow(%s) attempt %d: unexpected denial: %v", sourceID, i+1, err)
		}
		done(errSourceDown)
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	rec := &transitionRecorder{}
	b := New(testOptions(), rec.record)

	reportFailures(t, b, "cadastral", 3)

	if got := b.State("cadastral"); got != StateOpen {
		t.Fatalf("state after threshold failures = %q, want %q", got, StateOpen)
	}

	if _, err := b.Allow("cadastral"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow on open breaker: got %v, want ErrOpen", err)
	}

	changes := rec.all()
	if len(changes) == 0 {
		t.Fatal("expected a state change notification")
	}
	last := changes[len(changes)-1]
	if last.From != StateClosed || last.To != StateOpen {
		t.Fatalf("transition = %s -> %s, want closed -> open", last.From, last.To)
	}
}

func TestBreakerBelowThresholdStaysClosed(t *testing.T) {
	b := New(testOptions(), nil)

	reportFailures(t, b, "tax", 2)

	if got := b.State("tax"); got != StateClosed {
		t.Fatalf("state after 2 failures = %q, want %q", got, StateClosed)
	}
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	b := New(testOptions(), nil)
	reportFailures(t, b, "court", 3)

	// Cooldown has not elapsed yet
	if _, err := b.Allow("court"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow before cooldown: got %v, want ErrOpen", err)
	}

	time.Sleep(60 * time.Millisecond)

	// First caller after cooldown gets the trial slot
	done, err := b.Allow("court")
	if err != nil {
		t.Fatalf("Allow after cooldown: unexpected denial: %v", err)
	}

	// Concurrent callers are rejected until the trial reports
	if _, err := b.Allow("court"); !errors.Is(err, ErrTrialInFlight) {
		t.Fatalf("concurrent Allow in half-open: got %v, want ErrTrialInFlight", err)
	}

	// Successful trial closes the breaker
	done(nil)
	if got := b.State("court"); got != StateClosed {
		t.Fatalf("state after successful trial = %q, want %q", got, StateClosed)
	}

	if _, err := b.Allow("court"); err != nil {
		t.Fatalf("Allow after recovery: unexpected denial: %v", err)
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b := New(testOptions(), nil)
	reportFailures(t, b, "geo", 3)

	time.Sleep(60 * time.Millisecond)

	done, err := b.Allow("geo")
	if err != nil {
		t.Fatalf("Allow after cooldown: unexpected denial: %v", err)
	}
	done(errSourceDown)

	if got := b.State("geo"); got != StateOpen {
		t.Fatalf("state after failed trial = %q, want %q", got, StateOpen)
	}
	if _, err := b.Allow("geo"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow after failed trial: got %v, want ErrOpen", err)
	}
}

func TestBreakersAreIndependentPerSource(t *testing.T) {
	b := New(testOptions(), nil)

	reportFailures(t, b, "cadastral", 3)

	// A broken cadastral registry must not affect the tax source
	done, err := b.Allow("tax")
	if err != nil {
		t.Fatalf("Allow on unrelated source: unexpected denial: %v", err)
	}
	done(nil)

	open := b.OpenSources()
	if len(open) != 1 || open[0] != "cadastral" {
		t.Fatalf("OpenSources() = %v, want [cadastral]", open)
	}
}

func TestIsDenied(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"open state", ErrOpen, true},
		{"trial in flight", ErrTrialInFlight, true},
		{"nil", nil, false},
		{"other error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDenied(tt.err); got != tt.want {
				t.Errorf("IsDenied(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
