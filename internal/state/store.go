package state

import (
	"context"
	"errors"
)

// ErrPersistence wraps every failure to read or write durable actor state.
var ErrPersistence = errors.New("actor state persistence failed")

// Store is durable key-value storage for actor state keyed by actor id.
// Save is atomic: either the whole state is written or nothing is.
type Store interface {
	Load(ctx context.Context, actorID string) (*ActorState, bool, error)
	Save(ctx context.Context, actorID string, s *ActorState) error
	Close() error
}
