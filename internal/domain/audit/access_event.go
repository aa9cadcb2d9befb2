package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// AccessEvent is one entry in the protected-data access trail. SubjectID is
// the patient whose data was touched; it is nil only while unresolved, and
// capture skips the record entirely when no subject resolves.
type AccessEvent struct {
	ID         uuid.UUID    `json:"id"`
	ActorID    *uuid.UUID   `json:"actor_id,omitempty"`
	ActorRole  string       `json:"actor_role,omitempty"`
	SubjectID  *uuid.UUID   `json:"subject_id,omitempty"`
	Kind       AccessKind   `json:"kind"`
	Reason     AccessReason `json:"reason"`
	RecordType string       `json:"record_type"`
	RecordID   string       `json:"record_id,omitempty"`
	ClientIP   string       `json:"client_ip,omitempty"`
	UserAgent  string       `json:"user_agent,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	Metadata   Metadata     `json:"metadata,omitempty"`
}

// NewAccessEvent creates a validated access event. The reason is normalized
// through the tri-state AccessReason so a missing reason is always stored as
// the explicit sentinel, never as an empty string.
func NewAccessEvent(kind AccessKind, recordType, rawReason string) (*AccessEvent, error) {
	if err := validateAccessKind(kind); err != nil {
		return nil, errors.NewValidationError("INVALID_ACCESS_KIND",
			"access kind must be valid").WithCause(err)
	}
	if recordType == "" {
		recordType = "unknown"
	}

	return &AccessEvent{
		ID:         uuid.New(),
		Kind:       kind,
		Reason:     NewAccessReason(rawReason),
		RecordType: recordType,
		Timestamp:  time.Now().UTC(),
		Metadata:   Metadata{},
	}, nil
}

// IsSelfAccess reports whether the actor accessed their own record.
func (e *AccessEvent) IsSelfAccess() bool {
	return e.ActorID != nil && e.SubjectID != nil && *e.ActorID == *e.SubjectID
}
