// Package breaker tracks per-source failure rates across all investigations
// and short-circuits attempts against sources that are systemically down.
package breaker

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/m-karlsen/inquest/internal/logging"
)

// Sentinel errors returned by Allow. ErrOpen means the source's breaker is
// open; ErrTrialInFlight means the breaker is half-open and its single trial
// slot is taken by a concurrent caller.
var (
	ErrOpen          = gobreaker.ErrOpenState
	ErrTrialInFlight = gobreaker.ErrTooManyRequests
)

// Breaker state names as reported by State and StateChange
const (
	StateClosed   = "closed"
	StateHalfOpen = "half-open"
	StateOpen     = "open"
)

// Options tunes every per-source breaker
type Options struct {
	FailureThreshold uint32        // failures within Window that open the breaker
	Window           time.Duration // rolling window for failure counting while closed
	Cooldown         time.Duration // open -> half-open delay
}

// StateChange describes one breaker transition for a source
type StateChange struct {
	SourceID string
	From     string
	To       string
}

// Breakers holds one circuit breaker per source, created lazily. Each breaker
// carries its own lock, so reporting an outcome for one source never blocks
// attempts against another; the registry lock guards only map lookups.
type Breakers struct {
	opts     Options
	onChange func(StateChange)
	mu       sync.RWMutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker[any]
}

// New creates a breaker registry. onChange, if non-nil, is invoked on every
// state transition of any source's breaker.
func New(opts Options, onChange func(StateChange)) *Breakers {
	return &Breakers{
		opts:     opts,
		onChange: onChange,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker[any]),
	}
}

// Allow asks permission to attempt the given source. On success it returns a
// done callback through which the caller must report the attempt's outcome:
// nil for a successful attempt, the attempt's error otherwise.
// While the breaker is open, Allow fails with ErrOpen until the cooldown has
// elapsed; the open -> half-open transition happens lazily inside Allow, no
// background timer involved. In half-open state exactly one trial is allowed;
// concurrent callers get ErrTrialInFlight until that trial reports.
func (b *Breakers) Allow(sourceID string) (func(err error), error) {
	return b.forSource(sourceID).Allow()
}

// State returns the current breaker state for a source
func (b *Breakers) State(sourceID string) string {
	return b.forSource(sourceID).State().String()
}

// OpenSources returns the IDs of all sources whose breaker is currently open
func (b *Breakers) OpenSources() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var open []string
	for id, cb := range b.breakers {
		if cb.State() == gobreaker.StateOpen {
			open = append(open, id)
		}
	}
	return open
}

// IsDenied reports whether err is one of the breaker's denial errors
func IsDenied(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrTrialInFlight)
}

func (b *Breakers) forSource(sourceID string) *gobreaker.TwoStepCircuitBreaker[any] {
	b.mu.RLock()
	cb, ok := b.breakers[sourceID]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.breakers[sourceID]; ok {
		return cb
	}

	cb = gobreaker.NewTwoStepCircuitBreaker[any](b.newSettings(sourceID))
	b.breakers[sourceID] = cb
	return cb
}

func (b *Breakers) newSettings(sourceID string) gobreaker.Settings {
	threshold := b.opts.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	return gobreaker.Settings{
		Name:        sourceID,
		MaxRequests: 1, // exactly one trial per half-open cycle
		Interval:    b.opts.Window,
		Timeout:     b.opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("source_id", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")

			if b.onChange != nil {
				b.onChange(StateChange{
					SourceID: name,
					From:     from.String(),
					To:       to.String(),
				})
			}
		},
	}
}
