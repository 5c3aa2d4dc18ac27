// Package event raises the agent's diagnostic events as structured log
// records. Every actor event carries the actor type, actor key and the host
// context it runs in.
package event

import (
	"context"
	"log/slog"

	"github.com/gyaneshwarpardhi/syncagent/internal/actor"
)

// Well-known event ids.
const (
	IDMessage                       = 1
	IDActorMessage                  = 2
	IDActorHostInitializationFailed = 3
	IDActorError                    = 4
)

// Host describes where actors are running.
type Host struct {
	Service string
	Node    string
}

// Source emits events to a slog.Logger.
type Source struct {
	logger *slog.Logger
	host   Host
}

// NewSource returns a Source writing to logger; a nil logger means slog.Default().
func NewSource(logger *slog.Logger, host Host) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{logger: logger, host: host}
}

// Message raises a plain informational event.
func (s *Source) Message(msg string, args ...any) {
	s.logger.Info(msg, append([]any{"event_id", IDMessage}, args...)...)
}

// ActorMessage raises an informational event on behalf of an actor.
func (s *Source) ActorMessage(id actor.ID, msg string, args ...any) {
	s.actor(context.Background(), slog.LevelInfo, IDActorMessage, id, msg, args)
}

// ActorError raises an error event on behalf of an actor. Callers must not
// pass credentials in args.
func (s *Source) ActorError(id actor.ID, msg string, err error, args ...any) {
	s.actor(context.Background(), slog.LevelError, IDActorError, id, msg, append(args, "err", err))
}

// HostInitializationFailed records a fatal bootstrap failure.
func (s *Source) HostInitializationFailed(err error) {
	s.logger.Error("actor host initialization failed",
		"event_id", IDActorHostInitializationFailed,
		"service", s.host.Service,
		"node", s.host.Node,
		"err", err,
	)
}

func (s *Source) actor(ctx context.Context, level slog.Level, eventID int, id actor.ID, msg string, args []any) {
	if !s.logger.Enabled(ctx, level) {
		return
	}
	attrs := append([]any{
		"event_id", eventID,
		"actor_type", id.Type,
		"actor_id", id.Key,
		"service", s.host.Service,
		"node", s.host.Node,
	}, args...)
	s.logger.Log(ctx, level, msg, attrs...)
}
