package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// SecurityEvent records a security-relevant incident. It is created
// unresolved and the resolution sub-state is the only mutation a persisted
// event ever receives.
type SecurityEvent struct {
	ID          uuid.UUID         `json:"id"`
	ActorID     *uuid.UUID        `json:"actor_id,omitempty"`
	Kind        SecurityEventKind `json:"kind"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	ClientIP    string            `json:"client_ip,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    Metadata          `json:"metadata,omitempty"`

	Resolved        bool       `json:"resolved"`
	ResolvedBy      *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// NewSecurityEvent creates a validated, unresolved security event. Severity
// defaults to medium when unset.
func NewSecurityEvent(kind SecurityEventKind, description string, severity Severity) (*SecurityEvent, error) {
	if err := validateSecurityEventKind(kind); err != nil {
		return nil, errors.NewValidationError("INVALID_SECURITY_EVENT_KIND",
			"security event kind must be valid").WithCause(err)
	}
	if severity == "" {
		severity = SeverityMedium
	}
	if !severity.IsValid() {
		return nil, errors.NewValidationError("INVALID_SEVERITY",
			"severity must be low, medium, high or critical")
	}

	return &SecurityEvent{
		ID:          uuid.New(),
		Kind:        kind,
		Description: description,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		Metadata:    Metadata{},
	}, nil
}

// Resolve applies the single allowed mutation. Resolving an already-resolved
// event is idempotent: notes are overwritten, resolver and timestamp keep
// their first values.
func (e *SecurityEvent) Resolve(resolver uuid.UUID, notes string, now time.Time) {
	if e.Resolved {
		e.ResolutionNotes = notes
		return
	}
	at := now.UTC()
	e.Resolved = true
	e.ResolvedBy = &resolver
	e.ResolvedAt = &at
	e.ResolutionNotes = notes
}

// ResolutionHours returns the time from creation to resolution in hours,
// or 0 for unresolved events.
func (e *SecurityEvent) ResolutionHours() float64 {
	if !e.Resolved || e.ResolvedAt == nil {
		return 0
	}
	return e.ResolvedAt.Sub(e.Timestamp).Hours()
}
