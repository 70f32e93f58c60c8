package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/agentdeck/claudecontract"
)

// Transport carries requests in and verdicts out. Receive blocks until a
// request arrives, ctx is done, or the transport is closed (ErrTransportClosed).
// Respond is called exactly once per received request.
type Transport interface {
	Receive(ctx context.Context) (Request, error)
	Respond(ctx context.Context, id string, v Verdict) error
	Close() error
}

// RuleStore owns the durable rules of each session.
type RuleStore interface {
	// Rules returns the session's rules and working directory.
	Rules(sessionID string) (rules []Rule, workdir string, ok bool)

	// AddRule appends a rule to the session. Persisting it is the store's job.
	AddRule(sessionID string, rule Rule) error
}

// Resolution reports how a request was answered.
type Resolution struct {
	Request Request
	Verdict Verdict

	// Source is one of the Source constants.
	Source string
}

// Resolution sources.
const (
	SourceBookkeeping = "bookkeeping"
	SourceRule        = "rule"
	SourceDecider     = "decider"
	SourceExpired     = "expired"
	SourceError       = "error"
)

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the logger.
func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithOnResolved registers a hook called after every verdict is delivered.
func WithOnResolved(fn func(Resolution)) BrokerOption {
	return func(b *Broker) { b.onResolved = fn }
}

// WithRespondTimeout bounds each Transport.Respond call.
func WithRespondTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.respondTimeout = d
		}
	}
}

// Broker matches requests against rules and routes the rest to a Decider.
type Broker struct {
	store          RuleStore
	decider        Decider
	logger         *slog.Logger
	onResolved     func(Resolution)
	respondTimeout time.Duration
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	attached map[*attachment]struct{}
	inflight sync.WaitGroup
}

type attachment struct {
	t      Transport
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewBroker creates a Broker.
func NewBroker(store RuleStore, decider Decider, opts ...BrokerOption) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		store:          store,
		decider:        decider,
		logger:         slog.Default(),
		respondTimeout: 5 * time.Second,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		attached:       make(map[*attachment]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach starts serving a transport. The returned func stops receiving and
// closes the transport. Requests already received still run to a verdict.
func (b *Broker) Attach(t Transport) (detach func()) {
	ctx, cancel := context.WithCancel(b.ctx)
	a := &attachment{t: t, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = t.Close()
		return func() {}
	}
	b.attached[a] = struct{}{}
	b.mu.Unlock()

	go b.serve(ctx, a)

	return func() { b.detach(a) }
}

func (b *Broker) detach(a *attachment) {
	a.once.Do(func() {
		a.cancel()
		if err := a.t.Close(); err != nil {
			b.logger.Warn("closing permission transport", "err", err)
		}
		<-a.done
		b.mu.Lock()
		delete(b.attached, a)
		b.mu.Unlock()
	})
}

func (b *Broker) serve(ctx context.Context, a *attachment) {
	defer close(a.done)
	for {
		req, err := a.t.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
				return
			}
			b.logger.Warn("receiving permission request", "err", err)
			continue
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			b.respond(a.t, req, Deny(ErrBrokerClosed.Error()), SourceError)
			return
		}
		b.inflight.Add(1)
		b.mu.Unlock()

		go func() {
			defer b.inflight.Done()
			v, source := b.evaluate(b.ctx, req)
			b.respond(a.t, req, v, source)
		}()
	}
}

func (b *Broker) respond(t Transport, req Request, v Verdict, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.respondTimeout)
	defer cancel()
	if err := t.Respond(ctx, req.ID, v); err != nil {
		b.logger.Warn("delivering permission verdict", "request", req.ID, "session", req.SessionID, "err", err)
	}
	b.logger.Debug("permission resolved",
		"request", req.ID, "session", req.SessionID, "tool", req.ToolName,
		"allow", v.Allow, "source", source)
	if b.onResolved != nil {
		b.onResolved(Resolution{Request: req, Verdict: v, Source: source})
	}
}

// Evaluate decides a request without a transport.
func (b *Broker) Evaluate(ctx context.Context, req Request) Verdict {
	v, _ := b.evaluate(ctx, req)
	return v
}

func (b *Broker) evaluate(ctx context.Context, req Request) (v Verdict, source string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic evaluating permission request", "request", req.ID, "panic", r)
			v, source = Deny(fmt.Sprintf("internal error: %v", r)), SourceError
		}
	}()

	if claudecontract.IsBookkeeping(req.ToolName) {
		return Allow("bookkeeping tool"), SourceBookkeeping
	}

	rules, workdir, ok := b.store.Rules(req.SessionID)
	if !ok {
		return Deny(ErrUnknownSession.Error()), SourceError
	}
	if rule, ok := Match(rules, req.ToolName, req.Target, workdir); ok {
		reason := "always allowed"
		if !rule.Allow {
			reason = "always denied"
		}
		return Verdict{Allow: rule.Allow, Reason: reason}, SourceRule
	}

	dctx, cancel := decisionContext(ctx, req)
	defer cancel()

	v, err := b.decider.Decide(dctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return Verdict{Allow: false, Expired: true, Reason: "timed out waiting for a decision"}, SourceExpired
		case errors.Is(err, context.Canceled) && b.ctx.Err() != nil:
			return Deny(ErrBrokerClosed.Error()), SourceError
		default:
			return Deny(err.Error()), SourceError
		}
	}

	if v.Remember {
		rule := RuleFor(req, v, b.now())
		if err := b.store.AddRule(req.SessionID, rule); err != nil {
			b.logger.Warn("saving permission rule", "session", req.SessionID, "tool", rule.Tool, "err", err)
		}
	}
	return v, SourceDecider
}

// decisionContext applies the request's deadline and cancels when the
// requester abandons it.
func decisionContext(parent context.Context, req Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if !req.Deadline.IsZero() {
		var dcancel context.CancelFunc
		ctx, dcancel = context.WithDeadline(ctx, req.Deadline)
		prev := cancel
		cancel = func() { dcancel(); prev() }
	}
	if req.Abandoned != nil {
		go func() {
			select {
			case <-req.Abandoned:
				cancel()
			case <-ctx.Done():
			}
		}()
	}
	return ctx, cancel
}

// Close stops every transport and resolves every in-flight request with a
// denial. It waits for verdicts to be delivered.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	attached := make([]*attachment, 0, len(b.attached))
	for a := range b.attached {
		attached = append(attached, a)
	}
	b.mu.Unlock()

	b.cancel()
	if c, ok := b.decider.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	b.inflight.Wait()

	for _, a := range attached {
		b.detach(a)
	}
	return nil
}
