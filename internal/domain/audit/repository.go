package audit

import (
	"context"

	"github.com/google/uuid"
)

// ActivityRepository is the append-only store for the general audit trail.
type ActivityRepository interface {
	Insert(ctx context.Context, event *ActivityEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*ActivityEvent, error)
	Query(ctx context.Context, filter ActivityFilter) ([]*ActivityEvent, error)
	Count(ctx context.Context, filter ActivityFilter) (int64, error)
}

// AccessRepository is the append-only store for the PHI access trail.
type AccessRepository interface {
	Insert(ctx context.Context, event *AccessEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*AccessEvent, error)
	Query(ctx context.Context, filter AccessFilter) ([]*AccessEvent, error)
	Count(ctx context.Context, filter AccessFilter) (int64, error)
}

// SecurityEventRepository stores security events. Resolve is the only write
// after insert and must be atomic at the record level.
type SecurityEventRepository interface {
	Insert(ctx context.Context, event *SecurityEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*SecurityEvent, error)
	Query(ctx context.Context, filter SecurityFilter) ([]*SecurityEvent, error)
	Count(ctx context.Context, filter SecurityFilter) (int64, error)
	Resolve(ctx context.Context, id uuid.UUID, resolver uuid.UUID, notes string) (*SecurityEvent, error)
}
