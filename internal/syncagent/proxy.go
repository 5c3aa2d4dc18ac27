package syncagent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
	"github.com/gyaneshwarpardhi/syncagent/internal/compute"
)

// Invoker delivers a call to the actor with the given id, activating it if
// needed. Calls for one id never overlap.
type Invoker interface {
	Call(ctx context.Context, id actor.ID, method string, fn func(context.Context, actor.Actor) (any, error)) (any, error)
}

// API is the remote surface of compute API client actors, addressed by key.
type API interface {
	Initialize(ctx context.Context, key, targetRegion, userName, password string) (uuid.UUID, error)
	Describe(ctx context.Context, key string) (Description, error)
	Account(ctx context.Context, key string) (*compute.Account, error)
}

// Proxy routes API calls to client actors through an Invoker.
type Proxy struct {
	inv Invoker
}

var _ API = (*Proxy)(nil)

func NewProxy(inv Invoker) *Proxy {
	return &Proxy{inv: inv}
}

func (p *Proxy) Initialize(ctx context.Context, key, targetRegion, userName, password string) (uuid.UUID, error) {
	out, err := p.call(ctx, key, "Initialize", func(ctx context.Context, c *Client) (any, error) {
		return c.Initialize(ctx, targetRegion, userName, password)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return out.(uuid.UUID), nil
}

func (p *Proxy) Describe(ctx context.Context, key string) (Description, error) {
	out, err := p.call(ctx, key, "Describe", func(_ context.Context, c *Client) (any, error) {
		return c.Describe(), nil
	})
	if err != nil {
		return Description{}, err
	}
	return out.(Description), nil
}

func (p *Proxy) Account(ctx context.Context, key string) (*compute.Account, error) {
	out, err := p.call(ctx, key, "Account", func(ctx context.Context, c *Client) (any, error) {
		return c.Account(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*compute.Account), nil
}

func (p *Proxy) call(ctx context.Context, key, method string, fn func(context.Context, *Client) (any, error)) (any, error) {
	id := actor.ID{Type: ActorType, Key: key}
	return p.inv.Call(ctx, id, method, func(ctx context.Context, a actor.Actor) (any, error) {
		c, ok := a.(*Client)
		if !ok {
			return nil, fmt.Errorf("actor %s is %T, not a compute api client", id, a)
		}
		return fn(ctx, c)
	})
}
