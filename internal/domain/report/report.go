package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// Kind identifies a compliance report type.
type Kind string

const (
	KindDailyAudit        Kind = "daily_audit"
	KindPHIAccess         Kind = "phi_access"
	KindSecurityIncidents Kind = "security_incidents"
	KindUserActivity      Kind = "user_activity"
	KindSystemAccess      Kind = "system_access"
	KindCustom            Kind = "custom"
)

func validateKind(kind Kind) bool {
	switch kind {
	case KindDailyAudit, KindPHIAccess, KindSecurityIncidents,
		KindUserActivity, KindSystemAccess, KindCustom:
		return true
	}
	return false
}

// ComplianceReport is a tracked report-generation job. The reporting
// pipeline is the only writer of Status.
type ComplianceReport struct {
	ID          uuid.UUID              `json:"id"`
	Kind        Kind                   `json:"kind"`
	ReportDate  time.Time              `json:"report_date"`
	RequestedBy *uuid.UUID             `json:"requested_by,omitempty"`
	Status      JobStatus              `json:"status"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	ParamsHash  string                 `json:"params_hash"`
	Artifact    string                 `json:"artifact,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NewComplianceReport creates a pending report job.
func NewComplianceReport(kind Kind, reportDate time.Time, requestedBy *uuid.UUID, params map[string]interface{}) (*ComplianceReport, error) {
	if !validateKind(kind) {
		return nil, errors.NewValidationError("INVALID_REPORT_KIND",
			"report kind must be valid")
	}

	now := time.Now().UTC()
	return &ComplianceReport{
		ID:          uuid.New(),
		Kind:        kind,
		ReportDate:  reportDate,
		RequestedBy: requestedBy,
		Status:      StatusPending,
		Parameters:  params,
		ParamsHash:  ParamsFingerprint(string(kind), reportDate, params),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkProcessing transitions the job to processing.
func (r *ComplianceReport) MarkProcessing(now time.Time) error {
	if err := r.Status.CheckTransition(StatusProcessing); err != nil {
		return err
	}
	r.Status = StatusProcessing
	r.UpdatedAt = now.UTC()
	return nil
}

// Complete records the artifact and transitions to the completed terminal
// state. A completed job always carries an artifact reference.
func (r *ComplianceReport) Complete(artifact string, now time.Time) error {
	if artifact == "" {
		return errors.NewBusinessError("MISSING_ARTIFACT",
			"completed report requires an artifact reference")
	}
	if err := r.Status.CheckTransition(StatusCompleted); err != nil {
		return err
	}
	r.Status = StatusCompleted
	r.Artifact = artifact
	r.UpdatedAt = now.UTC()
	return nil
}

// Fail captures the error message and transitions to the failed terminal state.
func (r *ComplianceReport) Fail(message string, now time.Time) error {
	if err := r.Status.CheckTransition(StatusFailed); err != nil {
		return err
	}
	r.Status = StatusFailed
	r.Error = message
	r.UpdatedAt = now.UTC()
	return nil
}
