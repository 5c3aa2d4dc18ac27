package actor

import (
	"context"
	"fmt"
)

// ID identifies one actor instance: its registered type and its key.
type ID struct {
	Type string
	Key  string
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Type, id.Key)
}

// Actor is the lifecycle contract every hosted actor implements. The host
// calls OnActivate before the first message for an identity and OnDeactivate
// once the instance is evicted. Neither runs concurrently with any other call
// for the same identity.
type Actor interface {
	// OnActivate loads durable state and rebuilds transient resources.
	OnActivate(ctx context.Context) error
	// OnDeactivate releases transient resources. Durable state is untouched.
	OnDeactivate(ctx context.Context) error
}

// Factory builds the in-memory instance for an identity. It must not perform
// I/O; loading belongs in OnActivate.
type Factory func(id ID) Actor
