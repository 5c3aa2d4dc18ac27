// Package state holds the durable per-actor client state and the stores that
// persist it.
package state

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Secret is a credential value. It renders as a fixed placeholder in logs,
// fmt verbs and JSON; use Reveal to obtain the value.
type Secret string

const redacted = "[redacted]"

func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// ActorState is the durable configuration of one compute API client actor.
type ActorState struct {
	IsInitialized  bool
	TargetRegion   string
	Endpoint       *url.URL
	UserName       Secret
	Password       Secret
	OrganizationID uuid.UUID
}

// Clone returns a deep copy of s.
func (s *ActorState) Clone() *ActorState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Endpoint != nil {
		u := *s.Endpoint
		c.Endpoint = &u
	}
	return &c
}

// Validate checks that an initialized state carries everything needed to
// reconnect without contacting the API. Credentials may be empty; they are
// whatever the API accepted.
func (s *ActorState) Validate() error {
	if !s.IsInitialized {
		return nil
	}
	var missing []string
	if s.OrganizationID == uuid.Nil {
		missing = append(missing, "organization id")
	}
	if strings.TrimSpace(s.TargetRegion) == "" {
		missing = append(missing, "target region")
	}
	if s.Endpoint == nil || !s.Endpoint.IsAbs() {
		missing = append(missing, "endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("initialized state is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *ActorState) endpointString() string {
	if s.Endpoint == nil {
		return ""
	}
	return s.Endpoint.String()
}

// String never includes credentials.
func (s *ActorState) String() string {
	if s == nil || !s.IsInitialized {
		return "ActorState[Uninitialized]"
	}
	return fmt.Sprintf("ActorState[OrgId = '%s', ApiEndPoint = '%s']", s.OrganizationID, s.endpointString())
}

func (s *ActorState) LogValue() slog.Value {
	if s == nil || !s.IsInitialized {
		return slog.GroupValue(slog.Bool("initialized", false))
	}
	return slog.GroupValue(
		slog.Bool("initialized", true),
		slog.String("region", s.TargetRegion),
		slog.String("endpoint", s.endpointString()),
		slog.String("org_id", s.OrganizationID.String()),
	)
}
