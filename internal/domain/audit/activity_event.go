package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// ActivityEvent is one entry in the general audit trail. Records are
// append-only: the timestamp is assigned at construction and nothing is
// mutated after the event is persisted.
type ActivityEvent struct {
	ID           uuid.UUID    `json:"id"`
	ActorID      *uuid.UUID   `json:"actor_id,omitempty"`
	ActorRole    string       `json:"actor_role,omitempty"`
	Kind         ActivityKind `json:"kind"`
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id,omitempty"`
	Description  string       `json:"description"`
	ClientIP     string       `json:"client_ip,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Metadata     Metadata     `json:"metadata,omitempty"`
}

// NewActivityEvent creates a validated activity event with a server-assigned
// timestamp. Actor may be nil for anonymous operations.
func NewActivityEvent(kind ActivityKind, resourceType, description string) (*ActivityEvent, error) {
	if err := validateActivityKind(kind); err != nil {
		return nil, errors.NewValidationError("INVALID_ACTIVITY_KIND",
			"activity kind must be valid").WithCause(err)
	}
	if resourceType == "" {
		resourceType = "unknown"
	}

	return &ActivityEvent{
		ID:           uuid.New(),
		Kind:         kind,
		ResourceType: resourceType,
		Description:  description,
		Timestamp:    time.Now().UTC(),
		Metadata:     Metadata{},
	}, nil
}
