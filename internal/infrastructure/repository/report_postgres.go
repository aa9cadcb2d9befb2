package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrail/audit-backend/internal/domain/errors"
	"github.com/caretrail/audit-backend/internal/domain/report"
)

// ReportRepository persists compliance report and data export jobs.
type ReportRepository struct {
	db *pgxpool.Pool
}

func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) InsertReport(ctx context.Context, rep *report.ComplianceReport) error {
	params, err := json.Marshal(rep.Parameters)
	if err != nil {
		return errors.NewInternalError("failed to marshal report parameters").WithCause(err)
	}

	query := `
		INSERT INTO compliance_reports
			(id, kind, report_date, requested_by, status, parameters,
			 params_hash, artifact, notes, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		rep.ID, rep.Kind, rep.ReportDate, rep.RequestedBy, rep.Status, params,
		rep.ParamsHash, rep.Artifact, rep.Notes, rep.Error,
		rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		return errors.NewInternalError("failed to insert compliance report").WithCause(err)
	}
	return nil
}

func (r *ReportRepository) UpdateReport(ctx context.Context, rep *report.ComplianceReport) error {
	query := `
		UPDATE compliance_reports
		SET status = $2, artifact = $3, notes = $4, error = $5, updated_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		rep.ID, rep.Status, rep.Artifact, rep.Notes, rep.Error, rep.UpdatedAt)
	if err != nil {
		return errors.NewInternalError("failed to update compliance report").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("compliance report")
	}
	return nil
}

func (r *ReportRepository) GetReport(ctx context.Context, id uuid.UUID) (*report.ComplianceReport, error) {
	row := r.db.QueryRow(ctx, reportSelect+` WHERE id = $1`, id)
	rep, err := scanReport(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("compliance report")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load compliance report").WithCause(err)
	}
	return rep, nil
}

func (r *ReportRepository) FindReportByFingerprint(ctx context.Context, fingerprint string) (*report.ComplianceReport, error) {
	query := reportSelect + `
		WHERE params_hash = $1 AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.db.QueryRow(ctx, query, fingerprint)
	rep, err := scanReport(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("compliance report")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to find compliance report").WithCause(err)
	}
	return rep, nil
}

func (r *ReportRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*report.ComplianceReport, error) {
	query := reportSelect + `
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, errors.NewInternalError("failed to list stale reports").WithCause(err)
	}
	defer rows.Close()

	var reports []*report.ComplianceReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan compliance report").WithCause(err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

func (r *ReportRepository) InsertExport(ctx context.Context, exp *report.DataExport) error {
	filters, err := json.Marshal(exp.Filters)
	if err != nil {
		return errors.NewInternalError("failed to marshal export filters").WithCause(err)
	}

	query := `
		INSERT INTO data_exports
			(id, requested_by, stream, status, filters, artifact, error,
			 created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		exp.ID, exp.RequestedBy, exp.Stream, exp.Status, filters,
		exp.Artifact, exp.Error, exp.CreatedAt, exp.CompletedAt)
	if err != nil {
		return errors.NewInternalError("failed to insert data export").WithCause(err)
	}
	return nil
}

func (r *ReportRepository) UpdateExport(ctx context.Context, exp *report.DataExport) error {
	query := `
		UPDATE data_exports
		SET status = $2, artifact = $3, error = $4, completed_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		exp.ID, exp.Status, exp.Artifact, exp.Error, exp.CompletedAt)
	if err != nil {
		return errors.NewInternalError("failed to update data export").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("data export")
	}
	return nil
}

func (r *ReportRepository) GetExport(ctx context.Context, id uuid.UUID) (*report.DataExport, error) {
	query := `
		SELECT id, requested_by, stream, status, filters, artifact, error,
		       created_at, completed_at
		FROM data_exports
		WHERE id = $1`

	var (
		exp     report.DataExport
		filters []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&exp.ID, &exp.RequestedBy,
		&exp.Stream, &exp.Status, &filters, &exp.Artifact, &exp.Error,
		&exp.CreatedAt, &exp.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("data export")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load data export").WithCause(err)
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &exp.Filters); err != nil {
			return nil, errors.NewInternalError("failed to decode export filters").WithCause(err)
		}
	}
	return &exp, nil
}

const reportSelect = `
	SELECT id, kind, report_date, requested_by, status, parameters,
	       params_hash, artifact, notes, error, created_at, updated_at
	FROM compliance_reports`

func scanReport(row rowScanner) (*report.ComplianceReport, error) {
	var (
		rep    report.ComplianceReport
		params []byte
	)
	err := row.Scan(&rep.ID, &rep.Kind, &rep.ReportDate, &rep.RequestedBy,
		&rep.Status, &params, &rep.ParamsHash, &rep.Artifact, &rep.Notes,
		&rep.Error, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rep.Parameters); err != nil {
			return nil, err
		}
	}
	return &rep, nil
}
