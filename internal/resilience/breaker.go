// Package resilience provides the circuit breaker and backend chain the
// orchestrator uses to ride out failing inference backends. A Breaker
// protects one backend; a Chain composes interchangeable backends so a
// failing primary is bypassed toward cheaper substitutes.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when a breaker is open and its cool-off has not yet
// elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerState is the breaker's operating mode.
type BreakerState int

const (
	// Closed forwards all calls.
	Closed BreakerState = iota
	// Open rejects calls until the cool-off elapses.
	Open
	// Probing allows a bounded number of trial calls after the cool-off.
	Probing
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Probing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero fields take defaults.
type BreakerConfig struct {
	Name string

	// TripAfter is the consecutive-failure count that opens the breaker.
	// Default 3: inference backends fail hard, not flaky.
	TripAfter int

	// CoolOff is how long the breaker stays open before probing. Default 30s,
	// matching the worker restart ceiling.
	CoolOff time.Duration

	// ProbeBudget is how many trial calls the probing state allows before
	// deciding. Default 2.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker with an injectable clock.
type Breaker struct {
	name        string
	tripAfter   int
	coolOff     time.Duration
	probeBudget int
	log         *slog.Logger
	now         func() time.Time

	mu         sync.Mutex
	state      BreakerState
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker builds a Breaker from cfg.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 3
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		coolOff:     cfg.CoolOff,
		probeBudget: cfg.ProbeBudget,
		log:         log.With("breaker", cfg.Name),
		now:         time.Now,
	}
}

// Do runs fn if the breaker allows it.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.coolOff {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = Probing
		b.probes = 0
		b.probeFails = 0
		b.log.Info("breaker probing")
	case Probing:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == Probing
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

func (b *Breaker) onFailure(probing bool) {
	b.openedAt = b.now()
	if probing {
		b.probeFails++
		b.state = Open
		b.failures = b.tripAfter
		b.log.Warn("breaker reopened after failed probe")
		return
	}
	b.failures++
	if b.failures >= b.tripAfter {
		b.state = Open
		b.log.Warn("breaker opened", "failures", b.failures)
	}
}

func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			b.log.Info("breaker closed after probes")
		}
		return
	}
	b.failures = 0
}

// State reports the effective state: an open breaker past its cool-off
// reads as probing even though the transition happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.coolOff {
		return Probing
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
}
