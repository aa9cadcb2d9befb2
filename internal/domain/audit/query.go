package audit

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueryLimit bounds unpaginated queries over the log streams.
const DefaultQueryLimit = 100

// TimeRange is a half-open [Start, End) filter window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window. A zero Start or End
// leaves that side unbounded.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// ActivityFilter selects activity events. Zero values mean "no constraint";
// filters that match nothing yield empty results, never errors.
type ActivityFilter struct {
	ActorID   *uuid.UUID
	Kinds     []ActivityKind
	Range     TimeRange
	Search    string
	ClientIP  string
	ActorRole string
	Limit     int
	Offset    int
}

// AccessFilter selects access events.
type AccessFilter struct {
	ActorID       *uuid.UUID
	SubjectID     *uuid.UUID
	Kinds         []AccessKind
	Range         TimeRange
	Search        string
	ClientIP      string
	ActorRole     string
	MissingReason *bool
	Limit         int
	Offset        int
}

// SecurityFilter selects security events.
type SecurityFilter struct {
	ActorID     *uuid.UUID
	Kinds       []SecurityEventKind
	MinSeverity Severity
	Range       TimeRange
	Search      string
	ClientIP    string
	Resolved    *bool
	Limit       int
	Offset      int
}
