// Package syncagent implements the compute API client actor: a durable,
// single-owner client that resolves the organisation behind a set of compute
// API credentials once and then serves from its persisted state.
package syncagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
	"github.com/gyaneshwarpardhi/syncagent/internal/compute"
	"github.com/gyaneshwarpardhi/syncagent/internal/event"
	"github.com/gyaneshwarpardhi/syncagent/internal/metrics"
	"github.com/gyaneshwarpardhi/syncagent/internal/state"
)

// ActorType is the registered type name of the compute API client actor.
const ActorType = "ComputeApiClient"

var (
	// ErrInvalidArgument is returned for bad caller input. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotInitialized is returned by operations that need a resolved organisation.
	ErrNotInitialized = errors.New("compute api client is not initialized")
)

// Phase is the position of a client in its initialization lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseInitialized
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Deps are the collaborators shared by every client actor.
type Deps struct {
	Store     state.Store
	Resolver  compute.Resolver
	Connector *compute.Connector
	Events    *event.Source
	// HostTemplate derives the API host from a region; empty means the default.
	HostTemplate string
}

// Register adds the client actor type to reg.
func Register(reg *actor.Registry, deps Deps) {
	reg.Register(ActorType, func(id actor.ID) actor.Actor {
		return New(id, deps)
	})
}

// Client is one compute API client actor. All methods are called by the
// actor host one at a time.
type Client struct {
	id    actor.ID
	deps  Deps
	phase Phase
	state *state.ActorState
	conn  *compute.Client
}

var _ actor.Actor = (*Client)(nil)

// New returns an inactive client for id.
func New(id actor.ID, deps Deps) *Client {
	if deps.Connector == nil {
		deps.Connector = compute.NewConnector()
	}
	if deps.Resolver == nil {
		deps.Resolver = deps.Connector
	}
	if deps.Events == nil {
		deps.Events = event.NewSource(nil, event.Host{})
	}
	return &Client{id: id, deps: deps, state: &state.ActorState{}}
}

// OnActivate reconciles the in-memory client with durable state. A client
// that was initialized before reconnects from its persisted settings without
// calling the API; anything else starts from blank state.
func (c *Client) OnActivate(ctx context.Context) error {
	st, found, err := c.deps.Store.Load(ctx, c.id.Key)
	if err != nil {
		c.deps.Events.ActorError(c.id, "failed to load client state", err)
		return err
	}

	switch {
	case !found || !st.IsInitialized:
		c.reset()
	default:
		if err := st.Validate(); err != nil {
			c.deps.Events.ActorError(c.id, "discarding inconsistent client state", err)
			c.reset()
			break
		}
		c.state = st
		c.phase = PhaseInitialized
		c.connect()
	}

	c.deps.Events.ActorMessage(c.id, "Compute API client configured", "state", c.state)
	return nil
}

// OnDeactivate releases the API connection. Durable state is kept.
func (c *Client) OnDeactivate(context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Initialize resolves and stores the organisation for the given region and
// credentials, returning its id. Once a client is initialized further calls
// return the stored id without contacting the API, whatever their arguments.
func (c *Client) Initialize(ctx context.Context, targetRegion, userName, password string) (uuid.UUID, error) {
	if strings.TrimSpace(targetRegion) == "" {
		err := fmt.Errorf("%w: target region cannot be empty or whitespace", ErrInvalidArgument)
		c.deps.Events.ActorMessage(c.id, "Rejected initialisation request", "err", err)
		return uuid.Nil, err
	}

	if c.phase == PhaseInitialized {
		return c.state.OrganizationID, nil
	}

	endpoint, err := compute.EndpointForRegion(c.deps.HostTemplate, targetRegion)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		c.deps.Events.ActorMessage(c.id, "Rejected initialisation request", "err", err)
		return uuid.Nil, err
	}

	candidate := &state.ActorState{
		TargetRegion: targetRegion,
		Endpoint:     endpoint,
		UserName:     state.Secret(userName),
		Password:     state.Secret(password),
	}

	c.phase = PhaseInitializing
	start := time.Now()
	orgID, err := c.deps.Resolver.Resolve(ctx, endpoint, userName, password)
	metrics.ResolveDuration.WithLabelValues(resolveOutcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		c.phase = PhaseUninitialized
		c.deps.Events.ActorError(c.id, "Unexpected error during initialisation", err, "endpoint", endpoint.String())
		return uuid.Nil, err
	}
	if orgID == uuid.Nil {
		c.phase = PhaseUninitialized
		err := &compute.ResolveError{Kind: compute.KindMalformedResponse, Op: "account", Err: errors.New("nil organization id")}
		c.deps.Events.ActorError(c.id, "Unexpected error during initialisation", err, "endpoint", endpoint.String())
		return uuid.Nil, err
	}

	candidate.OrganizationID = orgID
	candidate.IsInitialized = true
	if err := c.deps.Store.Save(ctx, c.id.Key, candidate); err != nil {
		c.phase = PhaseUninitialized
		metrics.StateSaves.WithLabelValues("error").Inc()
		c.deps.Events.ActorError(c.id, "Failed to persist client state", err)
		if !errors.Is(err, state.ErrPersistence) {
			err = fmt.Errorf("%w: %w", state.ErrPersistence, err)
		}
		return uuid.Nil, err
	}
	metrics.StateSaves.WithLabelValues("ok").Inc()

	c.state = candidate
	c.phase = PhaseInitialized
	c.connect()

	c.deps.Events.ActorMessage(c.id, fmt.Sprintf("Initialisation complete (targeting organisation '%s').", orgID))
	return orgID, nil
}

// Account fetches the account behind the client's stored credentials.
func (c *Client) Account(ctx context.Context) (*compute.Account, error) {
	if c.phase != PhaseInitialized || c.conn == nil {
		return nil, ErrNotInitialized
	}
	acct, err := c.conn.Account(ctx)
	if err != nil {
		c.deps.Events.ActorError(c.id, "Failed to retrieve account details", err)
		return nil, err
	}
	return acct, nil
}

// Description is the externally visible, credential-free view of a client.
type Description struct {
	ActorID        string     `json:"actor_id"`
	Phase          string     `json:"phase"`
	Initialized    bool       `json:"initialized"`
	TargetRegion   string     `json:"target_region,omitempty"`
	Endpoint       string     `json:"endpoint,omitempty"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
}

// Describe returns the client's current description.
func (c *Client) Describe() Description {
	d := Description{
		ActorID: c.id.Key,
		Phase:   c.phase.String(),
	}
	if c.phase == PhaseInitialized {
		id := c.state.OrganizationID
		d.Initialized = true
		d.TargetRegion = c.state.TargetRegion
		d.Endpoint = c.state.Endpoint.String()
		d.OrganizationID = &id
	}
	return d
}

// Phase reports the client's lifecycle phase.
func (c *Client) Phase() Phase {
	return c.phase
}

func (c *Client) reset() {
	c.state = &state.ActorState{}
	c.phase = PhaseUninitialized
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) connect() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = c.deps.Connector.Connect(c.state.Endpoint, c.state.UserName.Reveal(), c.state.Password.Reveal())
}

func resolveOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := compute.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
