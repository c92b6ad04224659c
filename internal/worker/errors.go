// Package worker implements the persistent-worker protocol: line-framed JSON
// request/reply over a child process's standard streams, plus the supervisor
// that keeps such processes alive and the pool that load-balances across
// instances.
//
// Each worker process is strictly serial (one request in flight at a time),
// so replies pair with requests by FIFO order alone. Parallelism comes from
// running multiple processes behind a [Pool].
package worker

import "errors"

var (
	// ErrTimeout means the worker did not produce a reply line within the
	// per-call deadline. The process keeps running; the late reply, if any,
	// is discarded on the next call.
	ErrTimeout = errors.New("worker: call timed out")

	// ErrProtocol means the worker violated the one-line-JSON-per-reply
	// contract (malformed JSON or an unsolicited line on stdout). The
	// process is restarted immediately.
	ErrProtocol = errors.New("worker: protocol violation")

	// ErrCrashed means the child process exited while a call was pending or
	// before one could be issued.
	ErrCrashed = errors.New("worker: process exited")

	// ErrUnavailable means the supervisor has exhausted its restart budget
	// and the capability is offline until a manual or timed retry.
	ErrUnavailable = errors.New("worker: unavailable")

	// ErrQueueFull means the per-worker request queue is at capacity. The
	// caller should surface a retry-after rather than queue unboundedly.
	ErrQueueFull = errors.New("worker: request queue full")

	// ErrStopped means the supervisor has been shut down.
	ErrStopped = errors.New("worker: stopped")
)

// State describes a supervised worker's lifecycle position.
type State string

const (
	// StateStarting covers process spawn and the ready probe (model load).
	StateStarting State = "starting"

	// StateReady means the worker answered its ready probe and accepts calls.
	StateReady State = "ready"

	// StateDegraded means the last call failed in a recoverable way; the
	// supervisor is restarting or watching the worker.
	StateDegraded State = "degraded"

	// StateUnavailable means the restart budget is exhausted.
	StateUnavailable State = "unavailable"

	// StateStopped means the supervisor was shut down.
	StateStopped State = "stopped"
)
