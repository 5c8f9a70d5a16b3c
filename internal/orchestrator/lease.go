package orchestrator

import (
	"context"
	"sync"
)

// PollLease is the handle for one running poll loop. At most one live
// lease exists per remote job ID; acquiring a lease for an ID that
// already has one invalidates the previous lease first.
type PollLease struct {
	remoteJobID string
	ctx         context.Context
	cancel      context.CancelFunc
}

// Done is closed when the lease has been invalidated.
func (l *PollLease) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Context returns the lease-scoped context for remote calls.
func (l *PollLease) Context() context.Context {
	return l.ctx
}

// LeaseArena enforces the one-live-lease-per-remote-job-ID invariant.
type LeaseArena struct {
	mu     sync.Mutex
	leases map[string]*PollLease
}

// NewLeaseArena creates an empty arena.
func NewLeaseArena() *LeaseArena {
	return &LeaseArena{leases: make(map[string]*PollLease)}
}

// Acquire creates a lease for remoteJobID, invalidating any previous
// lease for the same ID.
func (a *LeaseArena) Acquire(parent context.Context, remoteJobID string) *PollLease {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.leases[remoteJobID]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	lease := &PollLease{
		remoteJobID: remoteJobID,
		ctx:         ctx,
		cancel:      cancel,
	}
	a.leases[remoteJobID] = lease
	return lease
}

// Invalidate cancels the live lease for remoteJobID, if any.
func (a *LeaseArena) Invalidate(remoteJobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if lease, ok := a.leases[remoteJobID]; ok {
		lease.cancel()
		delete(a.leases, remoteJobID)
	}
}

// Release removes the lease if it is still the current one for its ID.
// Called by the poll loop on exit; a newer lease for the same ID is
// left untouched.
func (a *LeaseArena) Release(lease *PollLease) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lease.cancel()
	if current, ok := a.leases[lease.remoteJobID]; ok && current == lease {
		delete(a.leases, lease.remoteJobID)
	}
}

// Active reports whether a live lease exists for remoteJobID.
func (a *LeaseArena) Active(remoteJobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	lease, ok := a.leases[remoteJobID]
	if !ok {
		return false
	}
	select {
	case <-lease.ctx.Done():
		return false
	default:
		return true
	}
}

// InvalidateAll cancels every live lease, used on project scope changes.
func (a *LeaseArena) InvalidateAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, lease := range a.leases {
		lease.cancel()
		delete(a.leases, id)
	}
}
