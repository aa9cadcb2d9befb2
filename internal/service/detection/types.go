package detection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

// Directory answers the organizational lookups heuristics depend on. The
// production implementation is the redis-backed directory cache.
type Directory interface {
	Role(ctx context.Context, userID uuid.UUID) (string, error)
	Caseload(ctx context.Context, providerID uuid.UUID) ([]uuid.UUID, error)
	WatchListed(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Snapshot is the immutable input of one detection run: every access event
// in the lookback window plus the failed logins in the brute-force window.
// Heuristics fold over it deterministically.
type Snapshot struct {
	Window       audit.TimeRange
	Now          time.Time
	Accesses     []*audit.AccessEvent
	FailedLogins []*audit.ActivityEvent
}

// Finding is a proposed security event. The engine turns findings into
// persisted alerts through the alert lifecycle.
type Finding struct {
	Kind        audit.SecurityEventKind
	Severity    audit.Severity
	ActorID     *uuid.UUID
	Description string
	Metadata    audit.Metadata
}

// Heuristic is one independent detection rule. An error or panic in one
// heuristic never suppresses the findings of the others.
type Heuristic interface {
	Name() string
	Evaluate(ctx context.Context, snap *Snapshot) ([]Finding, error)
}

// AlertRaiser persists findings as unresolved security events.
type AlertRaiser interface {
	Raise(ctx context.Context, event *audit.SecurityEvent) error
}

// Report summarizes one run: findings raised and heuristics that failed.
// A run with failures is partial, not void.
type Report struct {
	Started  time.Time
	Findings int
	Failed   map[string]error
}
