package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/errors"
	"github.com/caretrail/audit-backend/internal/domain/report"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/metrics"
	"github.com/caretrail/audit-backend/internal/service/alerts"
)

// RiskAssessor exposes the alert service's risk computation to the
// risk-assessment report section.
type RiskAssessor interface {
	AssessRisk(ctx context.Context) (*alerts.RiskAssessment, error)
}

// Service is the report and export pipeline: it schedules jobs, drives them
// through the status machine on the worker pool, and recovers jobs stranded
// in processing.
type Service struct {
	repo      report.Repository
	generator *Generator
	exporter  *Exporter
	renderer  *Renderer
	risk      RiskAssessor
	pool      *WorkerPool
	cfg       config.ReportingConfig
	logger    *zap.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

func NewService(
	ctx context.Context,
	repo report.Repository,
	generator *Generator,
	exporter *Exporter,
	renderer *Renderer,
	risk RiskAssessor,
	cfg config.ReportingConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		generator: generator,
		exporter:  exporter,
		renderer:  renderer,
		risk:      risk,
		pool:      NewWorkerPool(ctx, cfg.Workers, logger),
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.Get(),
		now:       time.Now,
	}
}

// Start recovers stale jobs from a previous run, then starts the workers.
func (s *Service) Start(ctx context.Context) error {
	if err := s.RecoverStale(ctx); err != nil {
		return err
	}
	s.pool.Start()
	return nil
}

func (s *Service) Stop() {
	s.pool.Stop()
}

// Schedule creates a pending report job, or returns the existing job when an
// equivalent non-failed one already exists. Only a failed prior job lets the
// same parameters run again.
func (s *Service) Schedule(ctx context.Context, kind report.Kind, date time.Time, requestedBy *uuid.UUID, params map[string]interface{}) (*report.ComplianceReport, error) {
	fingerprint := report.ParamsFingerprint(string(kind), date, params)
	existing, err := s.repo.FindReportByFingerprint(ctx, fingerprint)
	if err == nil {
		s.logger.Info("report already scheduled",
			zap.String("kind", string(kind)),
			zap.String("report_id", existing.ID.String()))
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	job, err := report.NewComplianceReport(kind, date, requestedBy, params)
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertReport(ctx, job); err != nil {
		return nil, err
	}

	id := job.ID
	if !s.pool.Submit(jobTask{id: id.String(), run: func(ctx context.Context) {
		s.processReport(ctx, id)
	}}) {
		s.logger.Warn("report queue full, job stays pending for stale recovery",
			zap.String("report_id", id.String()))
	}
	return job, nil
}

// ScheduleExport creates a pending raw-log export job and enqueues it.
func (s *Service) ScheduleExport(ctx context.Context, requestedBy uuid.UUID, stream string, filters map[string]interface{}) (*report.DataExport, error) {
	if _, err := ExportWindow(filters); err != nil {
		return nil, errors.NewValidationError("INVALID_EXPORT_FILTERS", err.Error())
	}
	job, err := report.NewDataExport(requestedBy, stream, filters)
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertExport(ctx, job); err != nil {
		return nil, err
	}

	id := job.ID
	if !s.pool.Submit(jobTask{id: id.String(), run: func(ctx context.Context) {
		s.processExport(ctx, id)
	}}) {
		s.logger.Warn("export queue full, job stays pending",
			zap.String("export_id", id.String()))
	}
	return job, nil
}

// GetReport returns the job with its current status.
func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*report.ComplianceReport, error) {
	return s.repo.GetReport(ctx, id)
}

// GetExport returns the export job with its current status.
func (s *Service) GetExport(ctx context.Context, id uuid.UUID) (*report.DataExport, error) {
	return s.repo.GetExport(ctx, id)
}

// Dashboard computes the live metrics bundle; it is served directly, not as
// a tracked job.
func (s *Service) Dashboard(ctx context.Context) (*DashboardMetrics, error) {
	return s.generator.Dashboard(ctx, s.now())
}

// RecoverStale marks reports stuck in processing since before the staleness
// deadline as failed. Runs on startup before the workers start.
func (s *Service) RecoverStale(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.repo.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, job := range stale {
		if err := job.Fail("abandoned by interrupted run", s.now()); err != nil {
			s.logger.Error("stale job in unexpected state",
				zap.String("report_id", job.ID.String()), zap.Error(err))
			continue
		}
		if err := s.repo.UpdateReport(ctx, job); err != nil {
			return err
		}
		s.logger.Warn("stale report job marked failed",
			zap.String("report_id", job.ID.String()))
	}
	return nil
}

func (s *Service) processReport(ctx context.Context, id uuid.UUID) {
	started := s.now()
	job, err := s.repo.GetReport(ctx, id)
	if err != nil {
		s.logger.Error("report job vanished", zap.String("report_id", id.String()), zap.Error(err))
		return
	}

	if err := job.MarkProcessing(s.now()); err != nil {
		s.logger.Error("report job not runnable", zap.String("report_id", id.String()), zap.Error(err))
		return
	}
	if err := s.repo.UpdateReport(ctx, job); err != nil {
		s.logger.Error("failed to persist processing state", zap.Error(err))
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	artifact, genErr := s.generate(genCtx, job)
	cancel()

	if genErr != nil {
		if err := job.Fail(genErr.Error(), s.now()); err == nil {
			_ = s.repo.UpdateReport(ctx, job)
		}
		metrics.Add(ctx, s.metrics.ReportJobs, 1)
		s.logger.Error("report generation failed",
			zap.String("report_id", id.String()), zap.Error(genErr))
		return
	}

	if err := job.Complete(artifact, s.now()); err != nil {
		s.logger.Error("report completion rejected", zap.Error(err))
		return
	}
	if err := s.repo.UpdateReport(ctx, job); err != nil {
		s.logger.Error("failed to persist completed report", zap.Error(err))
		return
	}
	metrics.Add(ctx, s.metrics.ReportJobs, 1)
	metrics.Observe(ctx, s.metrics.ReportDuration, s.now().Sub(started).Seconds())
	s.logger.Info("report completed",
		zap.String("report_id", id.String()),
		zap.String("artifact", artifact))
}

func (s *Service) processExport(ctx context.Context, id uuid.UUID) {
	job, err := s.repo.GetExport(ctx, id)
	if err != nil {
		s.logger.Error("export job vanished", zap.String("export_id", id.String()), zap.Error(err))
		return
	}
	if err := job.MarkProcessing(); err != nil {
		s.logger.Error("export job not runnable", zap.Error(err))
		return
	}
	if err := s.repo.UpdateExport(ctx, job); err != nil {
		s.logger.Error("failed to persist processing state", zap.Error(err))
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	window, err := ExportWindow(job.Filters)
	var artifact string
	if err == nil {
		artifact, err = s.exporter.Export(genCtx, job, window)
	}

	if err != nil {
		if ferr := job.Fail(err.Error(), s.now()); ferr == nil {
			_ = s.repo.UpdateExport(ctx, job)
		}
		metrics.Add(ctx, s.metrics.ReportJobs, 1)
		s.logger.Error("export failed", zap.String("export_id", id.String()), zap.Error(err))
		return
	}

	if err := job.Complete(artifact, s.now()); err != nil {
		s.logger.Error("export completion rejected", zap.Error(err))
		return
	}
	if err := s.repo.UpdateExport(ctx, job); err != nil {
		s.logger.Error("failed to persist completed export", zap.Error(err))
		return
	}
	metrics.Add(ctx, s.metrics.ReportJobs, 1)
}

// reportWindow is the day of the report date unless the parameters carry an
// explicit range.
func reportWindow(job *report.ComplianceReport) (audit.TimeRange, error) {
	if window, err := ExportWindow(job.Parameters); err != nil {
		return audit.TimeRange{}, err
	} else if !window.Start.IsZero() || !window.End.IsZero() {
		return window, nil
	}
	day := job.ReportDate.UTC().Truncate(24 * time.Hour)
	return audit.TimeRange{Start: day, End: day.AddDate(0, 0, 1)}, nil
}

func (s *Service) generate(ctx context.Context, job *report.ComplianceReport) (string, error) {
	window, err := reportWindow(job)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s", job.Kind, job.ID)

	switch job.Kind {
	case report.KindDailyAudit:
		doc := struct {
			Activity  *ActivitySummary         `json:"activity"`
			PHIAccess *PHIAccessSummary        `json:"phi_access"`
			Incidents *SecurityIncidentSummary `json:"incidents"`
		}{}
		if doc.Activity, err = s.generator.Activity(ctx, window); err != nil {
			return "", err
		}
		if doc.PHIAccess, err = s.generator.PHIAccess(ctx, window); err != nil {
			return "", err
		}
		if doc.Incidents, err = s.generator.SecurityIncidents(ctx, window); err != nil {
			return "", err
		}
		return s.renderer.WriteJSON(name, doc)

	case report.KindPHIAccess:
		doc := struct {
			Summary          *PHIAccessSummary       `json:"summary"`
			MinimumNecessary *MinimumNecessaryReport `json:"minimum_necessary"`
			DataSharing      *DataSharingReport      `json:"data_sharing"`
		}{}
		if doc.Summary, err = s.generator.PHIAccess(ctx, window); err != nil {
			return "", err
		}
		if doc.MinimumNecessary, err = s.generator.MinimumNecessary(ctx, window); err != nil {
			return "", err
		}
		if doc.DataSharing, err = s.generator.DataSharing(ctx, window); err != nil {
			return "", err
		}
		return s.renderer.WriteJSON(name, doc)

	case report.KindSecurityIncidents:
		doc := struct {
			Summary *SecurityIncidentSummary `json:"summary"`
			Risk    *alerts.RiskAssessment   `json:"risk_assessment"`
		}{}
		if doc.Summary, err = s.generator.SecurityIncidents(ctx, window); err != nil {
			return "", err
		}
		if doc.Risk, err = s.risk.AssessRisk(ctx); err != nil {
			return "", err
		}
		return s.renderer.WriteJSON(name, doc)

	case report.KindUserActivity:
		raw, _ := job.Parameters["user_id"].(string)
		actor, err := uuid.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("user_activity report requires a user_id parameter")
		}
		doc, err := s.generator.UserActivity(ctx, actor, window)
		if err != nil {
			return "", err
		}
		return s.renderer.WriteJSON(name, doc)

	case report.KindSystemAccess:
		doc, err := s.generator.Activity(ctx, window)
		if err != nil {
			return "", err
		}
		return s.renderer.WriteJSON(name, doc)

	case report.KindCustom:
		doc := struct {
			Activity  *ActivitySummary  `json:"activity"`
			PHIAccess *PHIAccessSummary `json:"phi_access"`
		}{}
		if doc.Activity, err = s.generator.Activity(ctx, window); err != nil {
			return "", err
		}
		if doc.PHIAccess, err = s.generator.PHIAccess(ctx, window); err != nil {
			return "", err
		}
		return s.renderer.WriteJSON(name, doc)
	}
	return "", fmt.Errorf("unknown report kind %q", job.Kind)
}
