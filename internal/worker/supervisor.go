package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Restart policy defaults. Spawn failures back off exponentially; too many
// failures inside the window park the worker as unavailable until a timed
// or manual retry.
const (
	defaultBackoffInitial   = time.Second
	defaultBackoffMax       = 30 * time.Second
	defaultFailureBudget    = 5
	defaultFailureWindow    = 5 * time.Minute
	defaultUnavailableRetry = 5 * time.Minute
	defaultQueueDepth       = 8

	// consecutiveTimeoutLimit is how many timeouts in a row a live process
	// is allowed before it is presumed wedged and restarted.
	consecutiveTimeoutLimit = 2
)

// Config describes one supervised worker.
type Config struct {
	Name         string
	Command      Command
	ReadyProbe   any
	ReadyTimeout time.Duration
	// QueueDepth bounds calls waiting for the worker. Zero means the
	// default of 8.
	QueueDepth int
	// Lazy defers the first spawn until the first call instead of spawning
	// at supervisor start.
	Lazy bool
}

// Status is a point-in-time snapshot for health and admin surfaces.
type Status struct {
	Name          string        `json:"name"`
	State         State         `json:"state"`
	Restarts      int           `json:"restarts"`
	QueueDepth    int           `json:"queueDepth"`
	QueueCapacity int           `json:"queueCapacity"`
	LastLatency   time.Duration `json:"lastLatencyMs"`
	LastError     string        `json:"lastError,omitempty"`
}

// Supervisor keeps one worker process alive: it spawns the process, runs the
// ready probe, classifies call failures, restarts with exponential backoff,
// and parks the worker as unavailable when the failure budget is spent.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// queue holds one token per admitted call.
	queue chan struct{}

	// restartCh wakes the run loop to replace the current channel. retryCh
	// clears the unavailable state.
	restartCh chan struct{}
	retryCh   chan struct{}

	onRestart func(name string)

	mu       sync.Mutex
	ch       *Channel
	state    State
	restarts int
	lastErr  error
	failures []time.Time
	timeouts int // consecutive

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSupervisor builds a supervisor; call Start to launch it.
func NewSupervisor(cfg Config, log *slog.Logger) *Supervisor {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &Supervisor{
		cfg:       cfg,
		log:       log.With("worker", cfg.Name),
		now:       time.Now,
		sleep:     sleepCtx,
		queue:     make(chan struct{}, depth),
		restartCh: make(chan struct{}, 1),
		retryCh:   make(chan struct{}, 1),
		state:     StateStarting,
		done:      make(chan struct{}),
	}
}

// OnRestart registers a hook invoked after every successful respawn that
// followed a failure. Used for metrics and turn warnings.
func (s *Supervisor) OnRestart(fn func(name string)) { s.onRestart = fn }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the supervision loop. With Lazy set the first spawn waits
// for the first call.
func (s *Supervisor) Start(ctx context.Context) {
	if s.cfg.Lazy {
		return
	}
	s.startLoop(ctx)
}

func (s *Supervisor) startLoop(ctx context.Context) {
	s.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		go s.run(loopCtx)
	})
}

// run owns the channel lifecycle. Calls never spawn processes themselves;
// they wait (bounded) for this loop to publish a ready channel.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	backoff := defaultBackoffInitial
	wasFailure := false

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := StartChannel(ctx, s.cfg.Name, s.cfg.Command, s.cfg.ReadyProbe, s.readyTimeout(), s.log)
		if err != nil {
			s.recordSpawnFailure(err)
			if s.getState() == StateUnavailable {
				s.log.Error("worker unavailable, start budget exhausted", "err", err)
				if !s.awaitRetry(ctx) {
					return
				}
				backoff = defaultBackoffInitial
				continue
			}
			s.log.Warn("worker start failed, backing off", "err", err, "backoff", backoff)
			if s.sleep(ctx, backoff) != nil {
				return
			}
			backoff = min(backoff*2, defaultBackoffMax)
			continue
		}

		s.publish(ch)
		backoff = defaultBackoffInitial
		if wasFailure && s.onRestart != nil {
			s.onRestart(s.cfg.Name)
		}

		select {
		case <-ctx.Done():
			ch.Stop(true)
			s.setState(StateStopped)
			return
		case <-ch.Exited():
			s.log.Warn("worker exited unexpectedly", "err", ch.exitErr, "stderr", lastLine(ch.StderrTail()))
			s.retire(ch, errors.Join(ErrCrashed, ch.exitErr))
		case <-s.restartCh:
			s.log.Info("restarting worker")
			ch.Stop(false)
			s.retire(ch, nil)
		}
		wasFailure = true
	}
}

// awaitRetry blocks in the unavailable state until a manual retry request or
// the timed retry interval. Reports false when the context is gone.
func (s *Supervisor) awaitRetry(ctx context.Context) bool {
	t := time.NewTimer(defaultUnavailableRetry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.retryCh:
	case <-t.C:
	}
	s.mu.Lock()
	s.failures = nil
	s.state = StateStarting
	s.mu.Unlock()
	return true
}

func (s *Supervisor) publish(ch *Channel) {
	s.mu.Lock()
	s.ch = ch
	s.state = StateReady
	s.timeouts = 0
	s.mu.Unlock()
}

func (s *Supervisor) retire(ch *Channel, err error) {
	s.mu.Lock()
	if s.ch == ch {
		s.ch = nil
	}
	if s.state != StateUnavailable {
		s.state = StateDegraded
	}
	if err != nil {
		s.lastErr = err
	}
	s.restarts++
	s.mu.Unlock()
}

// recordSpawnFailure notes a failed start and flips to unavailable once the
// budget inside the window is spent.
func (s *Supervisor) recordSpawnFailure(err error) {
	now := s.now()
	cutoff := now.Add(-defaultFailureWindow)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = append(kept, now)
	if len(s.failures) >= defaultFailureBudget {
		s.state = StateUnavailable
	} else {
		s.state = StateDegraded
	}
}

// Call admits the request to the bounded queue, waits for a ready channel,
// and issues the request. Failure classification drives the restart policy:
// crashes and protocol violations restart immediately, repeated timeouts
// restart after consecutiveTimeoutLimit in a row.
func (s *Supervisor) Call(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error) {
	s.startLoop(ctx)

	select {
	case s.queue <- struct{}{}:
	default:
		return nil, ErrQueueFull
	}
	defer func() { <-s.queue }()

	ch, err := s.waitReady(ctx, timeout)
	if err != nil {
		return nil, err
	}

	reply, err := ch.Call(ctx, req, timeout)
	s.classify(err)
	return reply, err
}

// waitReady polls for a published channel for at most the call timeout, so
// a call arriving mid-restart rides out a quick respawn instead of failing.
func (s *Supervisor) waitReady(ctx context.Context, timeout time.Duration) (*Channel, error) {
	deadline := s.now().Add(timeout)
	for {
		s.mu.Lock()
		ch, state, lastErr := s.ch, s.state, s.lastErr
		s.mu.Unlock()

		switch {
		case state == StateStopped:
			return nil, ErrStopped
		case state == StateUnavailable:
			return nil, errors.Join(ErrUnavailable, lastErr)
		case ch != nil && ch.Alive():
			return ch, nil
		}

		if s.now().After(deadline) {
			return nil, errors.Join(ErrTimeout, lastErr)
		}
		if err := s.sleep(ctx, 50*time.Millisecond); err != nil {
			return nil, err
		}
	}
}

func (s *Supervisor) classify(err error) {
	switch {
	case err == nil:
		s.mu.Lock()
		s.timeouts = 0
		s.mu.Unlock()
	case errors.Is(err, ErrCrashed), errors.Is(err, ErrProtocol):
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.RequestRestart()
	case errors.Is(err, ErrTimeout):
		s.mu.Lock()
		s.timeouts++
		s.lastErr = err
		wedged := s.timeouts >= consecutiveTimeoutLimit
		if wedged {
			s.timeouts = 0
		}
		s.mu.Unlock()
		if wedged {
			s.log.Warn("worker presumed wedged after consecutive timeouts")
			s.RequestRestart()
		}
	}
}

// RequestRestart asks the run loop to replace the current process. Safe to
// call from any goroutine; extra requests while one is pending coalesce.
func (s *Supervisor) RequestRestart() {
	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

// Retry clears the unavailable state and triggers an immediate respawn
// attempt. No-op unless the worker is parked.
func (s *Supervisor) Retry() {
	select {
	case s.retryCh <- struct{}{}:
	default:
	}
}

// Stop tears the worker down gracefully and ends the supervision loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	ch := s.ch
	s.ch = nil
	s.state = StateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-s.done
	}
	if ch != nil && ch.Alive() {
		ch.Stop(true)
	}
}

// Status returns a snapshot for health checks and the admin API.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:          s.cfg.Name,
		State:         s.state,
		Restarts:      s.restarts,
		QueueDepth:    len(s.queue),
		QueueCapacity: cap(s.queue),
	}
	if s.ch != nil {
		st.LastLatency = s.ch.LastLatency()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Ready reports whether the worker can serve a call right now.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && s.ch != nil && s.ch.Alive()
}

func (s *Supervisor) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) readyTimeout() time.Duration {
	if s.cfg.ReadyTimeout > 0 {
		return s.cfg.ReadyTimeout
	}
	return 90 * time.Second
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
