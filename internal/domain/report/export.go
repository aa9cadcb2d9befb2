package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// DataExport is a tracked raw-log export job. It follows the same monotonic
// status discipline as ComplianceReport.
type DataExport struct {
	ID          uuid.UUID              `json:"id"`
	RequestedBy uuid.UUID              `json:"requested_by"`
	Stream      string                 `json:"stream"`
	Status      JobStatus              `json:"status"`
	Filters     map[string]interface{} `json:"filters,omitempty"`
	Artifact    string                 `json:"artifact,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// NewDataExport creates a pending export job for one log stream.
func NewDataExport(requestedBy uuid.UUID, stream string, filters map[string]interface{}) (*DataExport, error) {
	switch stream {
	case "activity", "access", "security":
	default:
		return nil, errors.NewValidationError("INVALID_EXPORT_STREAM",
			"export stream must be activity, access or security")
	}

	return &DataExport{
		ID:          uuid.New(),
		RequestedBy: requestedBy,
		Stream:      stream,
		Status:      StatusPending,
		Filters:     filters,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// MarkProcessing transitions the export to processing.
func (e *DataExport) MarkProcessing() error {
	if err := e.Status.CheckTransition(StatusProcessing); err != nil {
		return err
	}
	e.Status = StatusProcessing
	return nil
}

// Complete records the artifact and completion time.
func (e *DataExport) Complete(artifact string, now time.Time) error {
	if artifact == "" {
		return errors.NewBusinessError("MISSING_ARTIFACT",
			"completed export requires an artifact reference")
	}
	if err := e.Status.CheckTransition(StatusCompleted); err != nil {
		return err
	}
	at := now.UTC()
	e.Status = StatusCompleted
	e.Artifact = artifact
	e.CompletedAt = &at
	return nil
}

// Fail captures the error message.
func (e *DataExport) Fail(message string, now time.Time) error {
	if err := e.Status.CheckTransition(StatusFailed); err != nil {
		return err
	}
	at := now.UTC()
	e.Status = StatusFailed
	e.Error = message
	e.CompletedAt = &at
	return nil
}
