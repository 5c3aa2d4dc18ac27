package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
	"github.com/gyaneshwarpardhi/syncagent/internal/config"
	"github.com/gyaneshwarpardhi/syncagent/internal/event"
	"github.com/gyaneshwarpardhi/syncagent/internal/metrics"
)

var (
	// ErrMailboxFull is returned when an actor already has a full queue of calls.
	ErrMailboxFull = errors.New("actor mailbox full")
	// ErrCallTimeout is returned when the caller stops waiting. The call itself
	// keeps running to completion inside the actor.
	ErrCallTimeout = errors.New("actor call timed out")
	// ErrShuttingDown is returned for calls made after Shutdown.
	ErrShuttingDown = errors.New("actor engine is shutting down")
)

// Engine hosts actors. Each activated identity owns a single-worker mailbox,
// so calls for one identity run one at a time, in arrival order, while
// different identities run in parallel.
type Engine struct {
	registry *actor.Registry
	events   *event.Source
	base     context.Context
	conf     atomic.Pointer[config.EngineConf]

	mu     sync.Mutex
	active map[actor.ID]*activation
	closed bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

type activation struct {
	id      actor.ID
	actor   actor.Actor
	mailbox *workerPool[*call, any]

	// activated is only touched by the mailbox goroutine, or after Drain.
	activated bool

	// guarded by Engine.mu
	pending  int
	lastUsed time.Time
}

type call struct {
	ctx    context.Context
	method string
	fn     func(context.Context, actor.Actor) (any, error)
}

// New creates an Engine for the actor types in reg and starts the idle
// sweeper. Cancelling ctx stops the sweeper only; call Shutdown to drain
// and deactivate actors.
func New(ctx context.Context, reg *actor.Registry, events *event.Source, conf config.EngineConf) *Engine {
	if events == nil {
		events = event.NewSource(nil, event.Host{})
	}
	e := &Engine{
		registry:  reg,
		events:    events,
		base:      context.WithoutCancel(ctx),
		active:    make(map[actor.ID]*activation),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	e.conf.Store(&conf)

	go e.sweepLoop(ctx)
	return e
}

// SetConf replaces the engine settings (used on hot-reload). Mailbox depth
// applies to actors activated afterwards.
func (e *Engine) SetConf(conf config.EngineConf) {
	e.conf.Store(&conf)
}

// Call delivers fn to the actor id, activating it first if needed, and waits
// for the result. Once accepted, a call always runs to completion: neither a
// cancelled ctx nor the call timeout interrupts it, they only stop the wait.
func (e *Engine) Call(ctx context.Context, id actor.ID, method string, fn func(context.Context, actor.Actor) (any, error)) (any, error) {
	conf := e.conf.Load()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	act, err := e.activationLocked(id, conf.MailboxDepth)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	resultC, ok := act.mailbox.Submit(&call{ctx: context.WithoutCancel(ctx), method: method, fn: fn})
	if !ok {
		e.mu.Unlock()
		metrics.MailboxRejected.Inc()
		return nil, fmt.Errorf("%w: %s (capacity %d)", ErrMailboxFull, id, act.mailbox.QueueCap())
	}
	act.pending++
	e.mu.Unlock()

	timeout := time.Duration(conf.CallTimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultC:
		return res.value, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v: %s.%s", ErrCallTimeout, timeout, id, method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) activationLocked(id actor.ID, depth int) (*activation, error) {
	if act, ok := e.active[id]; ok {
		return act, nil
	}
	factory, err := e.registry.Get(id.Type)
	if err != nil {
		return nil, err
	}
	if depth < 1 {
		depth = 1
	}
	act := &activation{
		id:       id,
		actor:    factory(id),
		lastUsed: time.Now(),
	}
	act.mailbox = newWorkerPool[*call, any](e.base, 1, depth, e.dispatch(act))
	e.active[id] = act
	metrics.ActiveActors.Set(float64(len(e.active)))
	return act, nil
}

func (e *Engine) dispatch(act *activation) func(context.Context, *call) (any, error) {
	return func(_ context.Context, c *call) (any, error) {
		defer e.release(act)

		if !act.activated {
			if err := act.actor.OnActivate(c.ctx); err != nil {
				metrics.Activations.WithLabelValues(act.id.Type, "error").Inc()
				metrics.CallsTotal.WithLabelValues(act.id.Type, c.method, "error").Inc()
				return nil, fmt.Errorf("activate %s: %w", act.id, err)
			}
			act.activated = true
			metrics.Activations.WithLabelValues(act.id.Type, "ok").Inc()
			slog.Debug("actor activated", "actor", act.id.String())
		}

		start := time.Now()
		v, err := c.fn(c.ctx, act.actor)
		metrics.CallDuration.WithLabelValues(act.id.Type, c.method).Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.CallsTotal.WithLabelValues(act.id.Type, c.method, status).Inc()
		return v, err
	}
}

func (e *Engine) release(act *activation) {
	e.mu.Lock()
	act.pending--
	act.lastUsed = time.Now()
	e.mu.Unlock()
}

// DeactivateIdle deactivates every actor with no queued or running calls that
// has been unused for at least the configured idle timeout as of now. It
// returns the number of actors deactivated.
func (e *Engine) DeactivateIdle(now time.Time) int {
	idle := time.Duration(e.conf.Load().IdleTimeoutMs) * time.Millisecond

	e.mu.Lock()
	var evicted []*activation
	for id, act := range e.active {
		if act.pending == 0 && now.Sub(act.lastUsed) >= idle {
			delete(e.active, id)
			evicted = append(evicted, act)
		}
	}
	metrics.ActiveActors.Set(float64(len(e.active)))
	e.mu.Unlock()

	for _, act := range evicted {
		e.deactivate(act)
	}
	return len(evicted)
}

func (e *Engine) deactivate(act *activation) {
	act.mailbox.Drain()
	if !act.activated {
		return
	}
	timeout := time.Duration(e.conf.Load().CallTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(e.base, timeout)
	defer cancel()
	if err := act.actor.OnDeactivate(ctx); err != nil {
		e.events.ActorError(act.id, "actor deactivation failed", err)
	}
	metrics.Deactivations.WithLabelValues(act.id.Type).Inc()
	slog.Debug("actor deactivated", "actor", act.id.String())
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer close(e.sweepDone)
	for {
		interval := time.Duration(e.conf.Load().SweepIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
			if n := e.DeactivateIdle(time.Now()); n > 0 {
				slog.Info("deactivated idle actors", "count", n)
			}
			metrics.MailboxUtilization.Set(e.MailboxUtilization())
		case <-e.stopSweep:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// ActiveCount returns the number of actors held in memory.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// MailboxUtilization returns queued calls over total mailbox capacity of the
// active actors (0–1).
func (e *Engine) MailboxUtilization() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var used, capacity int
	for _, act := range e.active {
		used += act.mailbox.QueueLen()
		capacity += act.mailbox.QueueCap()
	}
	if capacity == 0 {
		return 0
	}
	return float64(used) / float64(capacity)
}

// Closed reports whether Shutdown has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Shutdown rejects new calls, lets every accepted call finish and then
// deactivates all actors.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	acts := make([]*activation, 0, len(e.active))
	for id, act := range e.active {
		acts = append(acts, act)
		delete(e.active, id)
	}
	metrics.ActiveActors.Set(0)
	e.mu.Unlock()

	close(e.stopSweep)
	<-e.sweepDone

	var wg sync.WaitGroup
	for _, act := range acts {
		wg.Add(1)
		go func(act *activation) {
			defer wg.Done()
			e.deactivate(act)
		}(act)
	}
	wg.Wait()
}
