package resilience

import (
	"errors"
	"log/slog"
	"time"
)

// ErrChainExhausted is returned when every link in a Chain failed or had an
// open breaker.
var ErrChainExhausted = errors.New("resilience: all backends failed")

type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain tries interchangeable backends in registration order, each behind
// its own breaker. The orchestrator uses one chain per capability: response
// generation degrades model → remote → scripted, speech degrades native →
// hosted.
type Chain[T any] struct {
	links []link[T]
	cfg   BreakerConfig
	log   *slog.Logger
}

// NewChain creates a Chain with primary as the first link. cfg seeds the
// per-link breakers; the Name field is replaced per link.
func NewChain[T any](primaryName string, primary T, cfg BreakerConfig, log *slog.Logger) *Chain[T] {
	c := &Chain[T]{cfg: cfg, log: log}
	c.Append(primaryName, primary)
	return c
}

// Append registers a further backend, tried after all earlier ones.
func (c *Chain[T]) Append(name string, value T) {
	cfg := c.cfg
	cfg.Name = name
	c.links = append(c.links, link[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg, c.log),
	})
}

// Names lists the chain's backends in try order.
func (c *Chain[T]) Names() []string {
	out := make([]string, len(c.links))
	for i, l := range c.links {
		out[i] = l.name
	}
	return out
}

// Reset closes every link's breaker. Used by the admin retry endpoint.
func (c *Chain[T]) Reset() {
	for _, l := range c.links {
		l.breaker.Reset()
	}
}

// Observer is notified of every link failure as a chain falls through to
// the next backend, including the failure that exhausts the chain. Links
// skipped on an open breaker are not reported.
type Observer func(link string, err error)

// Try runs fn against each link until one succeeds, returning the result
// and the name of the link that served. Open breakers are skipped without a
// call. On exhaustion the last real error is wrapped in ErrChainExhausted.
func Try[T, R any](c *Chain[T], fn func(T) (R, error), obs ...Observer) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.links {
		l := &c.links[i]
		var result R
		err := l.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(l.value)
			return callErr
		})
		if err == nil {
			return result, l.name, nil
		}
		if errors.Is(err, ErrOpen) {
			c.log.Debug("skipping backend, breaker open", "backend", l.name)
		} else {
			lastErr = err
			c.log.Warn("backend failed, trying next", "backend", l.name, "err", err)
			for _, o := range obs {
				o(l.name, err)
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrOpen
	}
	return zero, "", errors.Join(ErrChainExhausted, lastErr)
}

// TryWithin is Try under a deadline relative to now; the chain stops
// starting new links once the budget is spent.
func TryWithin[T, R any](c *Chain[T], budget time.Duration, now func() time.Time, fn func(T) (R, error), obs ...Observer) (R, string, error) {
	deadline := now().Add(budget)
	var (
		zero    R
		lastErr error
	)
	for i := range c.links {
		if !now().Before(deadline) {
			break
		}
		l := &c.links[i]
		var result R
		err := l.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(l.value)
			return callErr
		})
		if err == nil {
			return result, l.name, nil
		}
		if !errors.Is(err, ErrOpen) {
			lastErr = err
			c.log.Warn("backend failed, trying next", "backend", l.name, "err", err)
			for _, o := range obs {
				o(l.name, err)
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrOpen
	}
	return zero, "", errors.Join(ErrChainExhausted, lastErr)
}
