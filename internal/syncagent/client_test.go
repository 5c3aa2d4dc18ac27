package syncagent_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
	"github.com/gyaneshwarpardhi/syncagent/internal/compute"
	"github.com/gyaneshwarpardhi/syncagent/internal/event"
	"github.com/gyaneshwarpardhi/syncagent/internal/state"
	"github.com/gyaneshwarpardhi/syncagent/internal/syncagent"
)

var orgA = uuid.MustParse("11111111-1111-1111-1111-111111111111")

// stubResolver records calls and returns a canned result.
type stubResolver struct {
	mu    sync.Mutex
	calls []string
	id    uuid.UUID
	err   error
}

func (s *stubResolver) Resolve(_ context.Context, endpoint *url.URL, userName, password string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, endpoint.String())
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return s.id, nil
}

func (s *stubResolver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	store    *state.MemoryStore
	resolver *stubResolver
	logs     *bytes.Buffer
	deps     syncagent.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    state.NewMemoryStore(),
		resolver: &stubResolver{id: orgA},
		logs:     &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.deps = syncagent.Deps{
		Store:     f.store,
		Resolver:  f.resolver,
		Connector: compute.NewConnector(),
		Events:    event.NewSource(logger, event.Host{Service: "test", Node: "n1"}),
	}
	return f
}

func (f *fixture) activate(t *testing.T, key string) *syncagent.Client {
	t.Helper()
	c := syncagent.New(actor.ID{Type: syncagent.ActorType, Key: key}, f.deps)
	if err := c.OnActivate(context.Background()); err != nil {
		t.Fatalf("OnActivate: %v", err)
	}
	t.Cleanup(func() { _ = c.OnDeactivate(context.Background()) })
	return c
}

func TestInitialize_PersistsResolvedState(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")

	id, err := c.Initialize(context.Background(), "NA9", "alice", "secret")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if id != orgA {
		t.Errorf("org id = %s, want %s", id, orgA)
	}
	if c.Phase() != syncagent.PhaseInitialized {
		t.Errorf("phase = %s", c.Phase())
	}

	st, found, err := f.store.Load(context.Background(), "acct-1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if !st.IsInitialized || st.TargetRegion != "NA9" || st.OrganizationID != orgA {
		t.Errorf("unexpected state: %+v", st)
	}
	if got, want := st.Endpoint.String(), "https://api-NA9.example/oec/0.9"; got != want {
		t.Errorf("endpoint = %q, want %q", got, want)
	}
	if st.UserName.Reveal() != "alice" || st.Password.Reveal() != "secret" {
		t.Error("credentials were not persisted")
	}
	if f.resolver.calls[0] != "https://api-NA9.example/oec/0.9" {
		t.Errorf("resolver endpoint = %q", f.resolver.calls[0])
	}
}

func TestInitialize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")
	ctx := context.Background()

	first, err := c.Initialize(ctx, "NA9", "alice", "secret")
	if err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	second, err := c.Initialize(ctx, "EU6", "bob", "other")
	if err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if first != second {
		t.Errorf("ids differ: %s vs %s", first, second)
	}
	if n := f.resolver.count(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
	if n := f.store.Saves(); n != 1 {
		t.Errorf("state saved %d times, want 1", n)
	}
	if d := c.Describe(); d.TargetRegion != "NA9" {
		t.Errorf("region mutated to %q", d.TargetRegion)
	}
}

func TestInitialize_BlankRegion(t *testing.T) {
	for _, region := range []string{"", " ", "\t\n"} {
		f := newFixture(t)
		c := f.activate(t, "acct-1")

		_, err := c.Initialize(context.Background(), region, "alice", "secret")
		if !errors.Is(err, syncagent.ErrInvalidArgument) {
			t.Fatalf("region %q: error = %v, want ErrInvalidArgument", region, err)
		}
		if f.resolver.count() != 0 {
			t.Errorf("region %q: resolver was called", region)
		}
		if f.store.Saves() != 0 {
			t.Errorf("region %q: state was saved", region)
		}
		if c.Phase() != syncagent.PhaseUninitialized {
			t.Errorf("region %q: phase = %s", region, c.Phase())
		}
	}
}

func TestInitialize_PassesEmptyCredentialsThrough(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")

	id, err := c.Initialize(context.Background(), "NA9", "", "")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if id != orgA {
		t.Errorf("org id = %s, want %s", id, orgA)
	}
	if f.resolver.count() != 1 || f.store.Saves() != 1 {
		t.Errorf("resolver calls = %d, saves = %d, want 1/1", f.resolver.count(), f.store.Saves())
	}
	if c.Phase() != syncagent.PhaseInitialized {
		t.Errorf("phase = %s", c.Phase())
	}

	st, found, err := f.store.Load(context.Background(), "acct-1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if !st.IsInitialized || st.UserName.Reveal() != "" || st.Password.Reveal() != "" {
		t.Errorf("unexpected state: %+v", st)
	}

	again := f.activate(t, "acct-1")
	if again.Phase() != syncagent.PhaseInitialized {
		t.Errorf("reactivated phase = %s", again.Phase())
	}
}

func TestInitialize_RejectsRegionThatChangesHost(t *testing.T) {
	for _, region := range []string{"x/evil", "x?evil", "x#evil", "x@evil"} {
		f := newFixture(t)
		c := f.activate(t, "acct-1")

		_, err := c.Initialize(context.Background(), region, "alice", "secret")
		if !errors.Is(err, syncagent.ErrInvalidArgument) {
			t.Errorf("region %q: error = %v, want ErrInvalidArgument", region, err)
		}
		if f.resolver.count() != 0 {
			t.Errorf("region %q: resolver was called", region)
		}
	}
}

func TestInitialize_BlankRegionRejectedWhenInitialized(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")
	if _, err := c.Initialize(context.Background(), "NA9", "alice", "secret"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Initialize(context.Background(), " ", "alice", "secret"); !errors.Is(err, syncagent.ErrInvalidArgument) {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestInitialize_ResolverFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")
	ctx := context.Background()

	f.resolver.err = &compute.ResolveError{Kind: compute.KindTransport, Op: "account", Err: errors.New("connection refused")}
	_, err := c.Initialize(ctx, "NA9", "alice", "wrong-secret")
	if !errors.Is(err, compute.ErrTransport) {
		t.Fatalf("error = %v, want transport error", err)
	}
	if c.Phase() != syncagent.PhaseUninitialized {
		t.Errorf("phase = %s, want uninitialized", c.Phase())
	}
	if _, found, _ := f.store.Load(ctx, "acct-1"); found {
		t.Error("failed initialisation persisted state")
	}
	if strings.Contains(f.logs.String(), "wrong-secret") || strings.Contains(f.logs.String(), "alice") {
		t.Errorf("logs leak credentials:\n%s", f.logs.String())
	}
	if !strings.Contains(f.logs.String(), "Unexpected error during initialisation") {
		t.Errorf("failure was not logged:\n%s", f.logs.String())
	}

	f.resolver.err = nil
	id, err := c.Initialize(ctx, "NA9", "alice", "secret")
	if err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if id != orgA {
		t.Errorf("org id = %s", id)
	}
	if f.store.Saves() != 1 {
		t.Errorf("saves = %d, want 1", f.store.Saves())
	}
}

func TestInitialize_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")
	ctx := context.Background()

	f.store.FailSaves(errors.New("disk full"))
	_, err := c.Initialize(ctx, "NA9", "alice", "secret")
	if !errors.Is(err, state.ErrPersistence) {
		t.Fatalf("error = %v, want ErrPersistence", err)
	}
	if c.Phase() != syncagent.PhaseUninitialized {
		t.Errorf("phase = %s, want uninitialized", c.Phase())
	}

	// A fresh activation must not see any initialized state.
	f.store.FailSaves(nil)
	again := f.activate(t, "acct-1")
	if again.Phase() != syncagent.PhaseUninitialized {
		t.Errorf("reactivated phase = %s", again.Phase())
	}

	// A retry resolves again and succeeds.
	if _, err := again.Initialize(ctx, "NA9", "alice", "secret"); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if n := f.resolver.count(); n != 2 {
		t.Errorf("resolver called %d times, want 2", n)
	}
}

func TestOnActivate_ReusesPersistedState(t *testing.T) {
	f := newFixture(t)
	endpoint, _ := url.Parse("https://api-NA9.example/oec/0.9")
	f.store.Put("acct-1", &state.ActorState{
		IsInitialized:  true,
		TargetRegion:   "NA9",
		Endpoint:       endpoint,
		UserName:       "alice",
		Password:       "secret",
		OrganizationID: orgA,
	})

	c := f.activate(t, "acct-1")
	if c.Phase() != syncagent.PhaseInitialized {
		t.Fatalf("phase = %s, want initialized", c.Phase())
	}
	id, err := c.Initialize(context.Background(), "NA9", "alice", "secret")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if id != orgA {
		t.Errorf("org id = %s", id)
	}
	if f.resolver.count() != 0 {
		t.Error("resolver called for a persisted client")
	}
	if strings.Contains(f.logs.String(), "secret") {
		t.Errorf("activation log leaks credentials:\n%s", f.logs.String())
	}
}

func TestOnActivate_DiscardsInconsistentState(t *testing.T) {
	f := newFixture(t)
	f.store.Put("acct-1", &state.ActorState{IsInitialized: true, TargetRegion: "NA9"})

	c := f.activate(t, "acct-1")
	if c.Phase() != syncagent.PhaseUninitialized {
		t.Errorf("phase = %s, want uninitialized", c.Phase())
	}
}

func TestDescribe_OmitsCredentials(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")

	d := c.Describe()
	if d.Initialized || d.OrganizationID != nil || d.Phase != "uninitialized" {
		t.Errorf("unexpected description: %+v", d)
	}

	if _, err := c.Initialize(context.Background(), "NA9", "alice", "secret"); err != nil {
		t.Fatal(err)
	}
	d = c.Describe()
	if !d.Initialized || d.OrganizationID == nil || *d.OrganizationID != orgA {
		t.Errorf("unexpected description: %+v", d)
	}
	if d.Endpoint != "https://api-NA9.example/oec/0.9" {
		t.Errorf("endpoint = %q", d.Endpoint)
	}
}

func TestAccount_UsesPersistedConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`<Account xmlns="http://oec.api.opsource.net/schemas/directory">
  <userName>alice</userName>
  <orgId>11111111-1111-1111-1111-111111111111</orgId>
</Account>`))
	}))
	defer srv.Close()

	f := newFixture(t)
	endpoint, _ := url.Parse(srv.URL + "/oec/0.9")
	f.store.Put("acct-1", &state.ActorState{
		IsInitialized:  true,
		TargetRegion:   "NA9",
		Endpoint:       endpoint,
		UserName:       "alice",
		Password:       "secret",
		OrganizationID: orgA,
	})

	c := f.activate(t, "acct-1")
	acct, err := c.Account(context.Background())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.UserName != "alice" || acct.OrganizationID != orgA {
		t.Errorf("unexpected account: %+v", acct)
	}
}

func TestAccount_RequiresInitialization(t *testing.T) {
	f := newFixture(t)
	c := f.activate(t, "acct-1")
	if _, err := c.Account(context.Background()); !errors.Is(err, syncagent.ErrNotInitialized) {
		t.Fatalf("error = %v, want ErrNotInitialized", err)
	}
}
