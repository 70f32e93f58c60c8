package permission

import (
	"context"
	"sort"
	"sync"
)

// Decider produces a verdict for a request no rule covers. Decide must
// return when ctx is done.
type Decider interface {
	Decide(ctx context.Context, req Request) (Verdict, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (Verdict, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}

// PendingDecider parks each request until Resolve is called with its id.
// Independent requests resolve in any order.
type PendingDecider struct {
	onPending func(Request)

	mu      sync.Mutex
	pending map[string]*pendingEntry
	closed  bool
}

type pendingEntry struct {
	req Request
	ch  chan Verdict
}

// NewPendingDecider creates a PendingDecider. onPending, if non-nil, is
// called once a request starts waiting, outside any lock.
func NewPendingDecider(onPending func(Request)) *PendingDecider {
	return &PendingDecider{
		onPending: onPending,
		pending:   make(map[string]*pendingEntry),
	}
}

// Decide waits for Resolve, ctx, or Close.
func (d *PendingDecider) Decide(ctx context.Context, req Request) (Verdict, error) {
	entry := &pendingEntry{req: req, ch: make(chan Verdict, 1)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Verdict{}, ErrBrokerClosed
	}
	d.pending[req.ID] = entry
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.pending[req.ID] == entry {
			delete(d.pending, req.ID)
		}
		d.mu.Unlock()
	}()

	if d.onPending != nil {
		d.onPending(req)
	}

	select {
	case v, ok := <-entry.ch:
		if !ok {
			return Verdict{}, ErrBrokerClosed
		}
		return v, nil
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

// Resolve delivers a verdict. It returns false if the request is not pending
// or was already resolved.
func (d *PendingDecider) Resolve(id string, v Verdict) bool {
	d.mu.Lock()
	entry, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case entry.ch <- v:
		return true
	default:
		return false
	}
}

// Pending returns the waiting requests, oldest first.
func (d *PendingDecider) Pending() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	reqs := make([]Request, 0, len(d.pending))
	for _, e := range d.pending {
		reqs = append(reqs, e.req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	return reqs
}

// PendingFor returns the waiting requests of one session.
func (d *PendingDecider) PendingFor(sessionID string) []Request {
	var out []Request
	for _, r := range d.Pending() {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// Close fails every waiting request with ErrBrokerClosed and rejects new ones.
func (d *PendingDecider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, e := range d.pending {
		close(e.ch)
		delete(d.pending, id)
	}
	return nil
}
