package capture

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

// Actor is the authenticated principal of an observed operation, resolved by
// the host platform before the operation reaches the classifier.
type Actor struct {
	ID       *uuid.UUID
	Role     string
	Username string
}

// Operation is one observed platform operation in transport-neutral form.
// The HTTP middleware builds it from a request/response pair; batch jobs can
// construct it directly.
type Operation struct {
	Method    string
	Path      string
	Query     url.Values
	Status    int
	Actor     Actor
	Reason    string
	Payload   map[string]interface{}
	ClientIP  string
	UserAgent string
	Timestamp time.Time
}

// AlertRaiser persists security events through the alert lifecycle. The
// classifier raises synchronously so a missing access reason is alerted in
// the same observation.
type AlertRaiser interface {
	Raise(ctx context.Context, event *audit.SecurityEvent) error
}
