package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
	"github.com/gyaneshwarpardhi/syncagent/internal/config"
	"github.com/gyaneshwarpardhi/syncagent/internal/engine"
)

const probeType = "Probe"

var errBoom = errors.New("boom")

// probe counts lifecycle callbacks across every actor instance it creates.
type probe struct {
	mu              sync.Mutex
	instances       int
	activations     int
	deactivations   int
	failActivations int
}

func (p *probe) factory(id actor.ID) actor.Actor {
	p.mu.Lock()
	p.instances++
	p.mu.Unlock()
	return &probeActor{p: p, id: id}
}

func (p *probe) counts() (instances, activations, deactivations int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instances, p.activations, p.deactivations
}

type probeActor struct {
	p  *probe
	id actor.ID
	n  int
}

func (a *probeActor) OnActivate(context.Context) error {
	a.p.mu.Lock()
	defer a.p.mu.Unlock()
	if a.p.failActivations > 0 {
		a.p.failActivations--
		return errBoom
	}
	a.p.activations++
	return nil
}

func (a *probeActor) OnDeactivate(context.Context) error {
	a.p.mu.Lock()
	defer a.p.mu.Unlock()
	a.p.deactivations++
	return nil
}

func testConf() config.EngineConf {
	return config.EngineConf{
		MailboxDepth:    8,
		CallTimeoutMs:   2000,
		IdleTimeoutMs:   60000,
		SweepIntervalMs: 60000,
	}
}

func newEngine(t *testing.T, conf config.EngineConf) (*engine.Engine, *probe) {
	t.Helper()
	p := &probe{}
	reg := actor.NewRegistry()
	reg.Register(probeType, p.factory)
	eng := engine.New(context.Background(), reg, nil, conf)
	t.Cleanup(eng.Shutdown)
	return eng, p
}

func id(key string) actor.ID {
	return actor.ID{Type: probeType, Key: key}
}

func increment(_ context.Context, a actor.Actor) (any, error) {
	pa := a.(*probeActor)
	pa.n++
	return pa.n, nil
}

func TestCallActivatesOnce(t *testing.T) {
	eng, p := newEngine(t, testConf())

	for want := 1; want <= 3; want++ {
		got, err := eng.Call(context.Background(), id("a"), "inc", increment)
		if err != nil {
			t.Fatalf("call %d: %v", want, err)
		}
		if got.(int) != want {
			t.Errorf("call %d returned %v", want, got)
		}
	}

	instances, activations, _ := p.counts()
	if instances != 1 || activations != 1 {
		t.Errorf("instances=%d activations=%d, want 1/1", instances, activations)
	}
	if eng.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", eng.ActiveCount())
	}
}

func TestCallsForOneIdentityNeverOverlap(t *testing.T) {
	eng, _ := newEngine(t, config.EngineConf{MailboxDepth: 64, CallTimeoutMs: 5000, IdleTimeoutMs: 60000, SweepIntervalMs: 60000})

	var inflight, maxInflight atomic.Int32
	fn := func(ctx context.Context, a actor.Actor) (any, error) {
		n := inflight.Add(1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		return increment(ctx, a)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.Call(context.Background(), id("same"), "inc", fn); err != nil {
				t.Errorf("call: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInflight.Load() != 1 {
		t.Errorf("max concurrent calls = %d, want 1", maxInflight.Load())
	}
	got, err := eng.Call(context.Background(), id("same"), "inc", increment)
	if err != nil {
		t.Fatal(err)
	}
	if got.(int) != 33 {
		t.Errorf("counter = %v, want 33 (lost updates)", got)
	}
}

func TestDifferentIdentitiesRunInParallel(t *testing.T) {
	eng, _ := newEngine(t, testConf())

	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := eng.Call(context.Background(), id("a"), "wait", func(context.Context, actor.Actor) (any, error) {
			select {
			case <-release:
				return nil, nil
			case <-time.After(time.Second):
				return nil, errors.New("actor b never ran")
			}
		})
		errc <- err
	}()

	if _, err := eng.Call(context.Background(), id("b"), "release", func(context.Context, actor.Actor) (any, error) {
		close(release)
		return nil, nil
	}); err != nil {
		t.Fatalf("call b: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("call a: %v", err)
	}
}

func TestActivationFailureIsRetried(t *testing.T) {
	eng, p := newEngine(t, testConf())
	p.failActivations = 1

	_, err := eng.Call(context.Background(), id("a"), "inc", increment)
	if !errors.Is(err, errBoom) {
		t.Fatalf("first call err = %v, want errBoom", err)
	}

	got, err := eng.Call(context.Background(), id("a"), "inc", increment)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got.(int) != 1 {
		t.Errorf("second call returned %v, want 1", got)
	}
	instances, activations, _ := p.counts()
	if instances != 1 || activations != 1 {
		t.Errorf("instances=%d activations=%d, want 1/1", instances, activations)
	}
}

func TestDeactivateIdle(t *testing.T) {
	eng, p := newEngine(t, testConf())

	if _, err := eng.Call(context.Background(), id("a"), "inc", increment); err != nil {
		t.Fatal(err)
	}

	if n := eng.DeactivateIdle(time.Now()); n != 0 {
		t.Errorf("deactivated %d fresh actors", n)
	}
	if n := eng.DeactivateIdle(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("deactivated %d, want 1", n)
	}
	if eng.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after sweep", eng.ActiveCount())
	}

	// A new call reactivates a fresh instance.
	got, err := eng.Call(context.Background(), id("a"), "inc", increment)
	if err != nil {
		t.Fatal(err)
	}
	if got.(int) != 1 {
		t.Errorf("reactivated actor returned %v, want 1", got)
	}
	instances, activations, deactivations := p.counts()
	if instances != 2 || activations != 2 || deactivations != 1 {
		t.Errorf("instances=%d activations=%d deactivations=%d, want 2/2/1", instances, activations, deactivations)
	}
}

func TestDeactivateIdleSkipsBusyActors(t *testing.T) {
	eng, _ := newEngine(t, testConf())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Call(context.Background(), id("busy"), "block", func(context.Context, actor.Actor) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	if n := eng.DeactivateIdle(time.Now().Add(2 * time.Hour)); n != 0 {
		t.Errorf("deactivated %d busy actors", n)
	}
	close(release)
	<-done
}

func TestMailboxFull(t *testing.T) {
	conf := testConf()
	conf.MailboxDepth = 1
	eng, _ := newEngine(t, conf)

	started := make(chan struct{})
	release := make(chan struct{})
	block := func(context.Context, actor.Actor) (any, error) {
		<-release
		return nil, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.Call(context.Background(), id("a"), "block", func(ctx context.Context, a actor.Actor) (any, error) {
			close(started)
			return block(ctx, a)
		})
	}()
	<-started
	go func() {
		defer wg.Done()
		eng.Call(context.Background(), id("a"), "block", block)
	}()

	deadline := time.Now().Add(time.Second)
	for eng.MailboxUtilization() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("second call never queued")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := eng.Call(context.Background(), id("a"), "inc", increment)
	if !errors.Is(err, engine.ErrMailboxFull) {
		t.Errorf("err = %v, want ErrMailboxFull", err)
	}

	close(release)
	wg.Wait()
}

func TestCallTimeoutLetsCallFinish(t *testing.T) {
	conf := testConf()
	conf.CallTimeoutMs = 20
	eng, _ := newEngine(t, conf)

	release := make(chan struct{})
	finished := make(chan struct{})
	_, err := eng.Call(context.Background(), id("a"), "slow", func(context.Context, actor.Actor) (any, error) {
		<-release
		close(finished)
		return nil, nil
	})
	if !errors.Is(err, engine.ErrCallTimeout) {
		t.Fatalf("err = %v, want ErrCallTimeout", err)
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("timed out call was abandoned")
	}
}

func TestCancelledCallerDoesNotCancelCall(t *testing.T) {
	eng, _ := newEngine(t, testConf())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		_, err := eng.Call(ctx, id("a"), "slow", func(callCtx context.Context, _ actor.Actor) (any, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			result <- callCtx.Err()
			return nil, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("caller err = %v, want context.Canceled", err)
		}
	}()
	<-started
	cancel()

	if err := <-result; err != nil {
		t.Errorf("call context err = %v, want nil", err)
	}
}

func TestShutdown(t *testing.T) {
	eng, p := newEngine(t, testConf())

	for _, key := range []string{"a", "b"} {
		if _, err := eng.Call(context.Background(), id(key), "inc", increment); err != nil {
			t.Fatal(err)
		}
	}

	eng.Shutdown()
	if !eng.Closed() {
		t.Error("Closed() = false after Shutdown")
	}
	_, _, deactivations := p.counts()
	if deactivations != 2 {
		t.Errorf("deactivations = %d, want 2", deactivations)
	}
	if _, err := eng.Call(context.Background(), id("a"), "inc", increment); !errors.Is(err, engine.ErrShuttingDown) {
		t.Errorf("err = %v, want ErrShuttingDown", err)
	}

	// Second shutdown is a no-op.
	eng.Shutdown()
}

func TestUnknownActorType(t *testing.T) {
	eng, _ := newEngine(t, testConf())

	_, err := eng.Call(context.Background(), actor.ID{Type: "Nope", Key: "a"}, "inc", increment)
	if err == nil {
		t.Fatal("expected error for unregistered actor type")
	}
	if eng.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", eng.ActiveCount())
	}
}
