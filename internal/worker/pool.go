package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// Pool round-robins calls across replicas of the same worker. A single
// replica is the common deployment; multiple replicas add throughput since
// each process serves one request at a time.
type Pool struct {
	name    string
	members []*Supervisor
	next    atomic.Uint64
}

// NewPool wraps the given supervisors. It panics on an empty member list,
// which is a wiring bug, not a runtime condition.
func NewPool(name string, members ...*Supervisor) *Pool {
	if len(members) == 0 {
		panic("worker: pool " + name + " has no members")
	}
	return &Pool{name: name, members: members}
}

// Call dispatches to the next replica in rotation. A full queue on the
// chosen replica fails the call rather than spilling to a sibling, keeping
// admission strictly bounded.
func (p *Pool) Call(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error) {
	idx := p.next.Add(1) - 1
	return p.members[idx%uint64(len(p.members))].Call(ctx, req, timeout)
}

// Start launches all replicas.
func (p *Pool) Start(ctx context.Context) {
	for _, m := range p.members {
		m.Start(ctx)
	}
}

// Stop tears down all replicas.
func (p *Pool) Stop() {
	for _, m := range p.members {
		m.Stop()
	}
}

// Ready reports whether at least one replica can serve.
func (p *Pool) Ready() bool {
	for _, m := range p.members {
		if m.Ready() {
			return true
		}
	}
	return false
}

// Unavailable reports whether every replica is parked after spending its
// start budget.
func (p *Pool) Unavailable() bool {
	for _, m := range p.members {
		if m.Status().State != StateUnavailable {
			return false
		}
	}
	return true
}

// Restart asks every replica to respawn. Replicas parked as unavailable are
// moved back into their retry loop immediately.
func (p *Pool) Restart() {
	for _, m := range p.members {
		m.Retry()
		m.RequestRestart()
	}
}

// Statuses snapshots every replica.
func (p *Pool) Statuses() []Status {
	out := make([]Status, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m.Status())
	}
	return out
}

// Name is the capability name the pool serves.
func (p *Pool) Name() string { return p.name }
