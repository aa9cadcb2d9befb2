package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists compliance reports and data exports. The reporting
// pipeline is the sole writer of job status.
type Repository interface {
	InsertReport(ctx context.Context, r *ComplianceReport) error
	UpdateReport(ctx context.Context, r *ComplianceReport) error
	GetReport(ctx context.Context, id uuid.UUID) (*ComplianceReport, error)
	// FindReportByFingerprint returns the most recent non-failed job with the
	// given idempotency key, or a not-found error.
	FindReportByFingerprint(ctx context.Context, fingerprint string) (*ComplianceReport, error)
	// ListStaleProcessing returns reports stuck in processing since before the
	// given cutoff so the runner can mark them failed on restart.
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*ComplianceReport, error)

	InsertExport(ctx context.Context, e *DataExport) error
	UpdateExport(ctx context.Context, e *DataExport) error
	GetExport(ctx context.Context, id uuid.UUID) (*DataExport, error)
}
