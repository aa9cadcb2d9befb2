package reporting

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/report"
	"github.com/caretrail/audit-backend/internal/infrastructure/cache"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
	"github.com/caretrail/audit-backend/internal/infrastructure/repository"
	"github.com/caretrail/audit-backend/internal/service/alerts"
)

type stubRisk struct{}

func (stubRisk) AssessRisk(context.Context) (*alerts.RiskAssessment, error) {
	return &alerts.RiskAssessment{Score: 10, Level: alerts.RiskLow}, nil
}

type pipelineFixture struct {
	svc      *Service
	repo     *repository.MemoryReportRepository
	activity *repository.MemoryActivityRepository
	access   *repository.MemoryAccessRepository
	security *repository.MemorySecurityEventRepository
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	repo := repository.NewMemoryReportRepository()
	activity := repository.NewMemoryActivityRepository()
	access := repository.NewMemoryAccessRepository()
	security := repository.NewMemorySecurityEventRepository()
	renderer := NewRenderer(t.TempDir())
	generator := NewGenerator(activity, access, security, &cache.StaticDirectory{})
	exporter := NewExporter(activity, access, security, renderer)

	cfg := config.ReportingConfig{
		Workers:    2,
		JobTimeout: 30 * time.Second,
		StaleAfter: 30 * time.Minute,
	}
	svc := NewService(context.Background(), repo, generator, exporter, renderer, stubRisk{}, cfg, zap.NewNop())
	return &pipelineFixture{svc: svc, repo: repo, activity: activity, access: access, security: security}
}

func TestSchedule_IsIdempotentPerFingerprint(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	first, err := f.svc.Schedule(ctx, report.KindDailyAudit, date, nil, nil)
	require.NoError(t, err)

	second, err := f.svc.Schedule(ctx, report.KindDailyAudit, date, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A different date is a different job.
	other, err := f.svc.Schedule(ctx, report.KindDailyAudit, date.AddDate(0, 0, 1), nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSchedule_FailedJobAllowsRetrigger(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	first, err := f.svc.Schedule(ctx, report.KindDailyAudit, date, nil, nil)
	require.NoError(t, err)

	require.NoError(t, first.MarkProcessing(time.Now()))
	require.NoError(t, first.Fail("store blip", time.Now()))
	require.NoError(t, f.repo.UpdateReport(ctx, first))

	retry, err := f.svc.Schedule(ctx, report.KindDailyAudit, date, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, retry.ID)
	assert.Equal(t, report.StatusPending, retry.Status)
}

func TestProcessReport_CompletesWithArtifact(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	event, err := audit.NewAccessEvent(audit.AccessView, "medical_record", "rounds")
	require.NoError(t, err)
	actor := uuid.New()
	subject := uuid.New()
	event.ActorID = &actor
	event.SubjectID = &subject
	event.Timestamp = date.Add(10 * time.Hour)
	require.NoError(t, f.access.Insert(ctx, event))

	job, err := f.svc.Schedule(ctx, report.KindPHIAccess, date, nil, nil)
	require.NoError(t, err)

	f.svc.processReport(ctx, job.ID)

	done, err := f.svc.GetReport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, done.Status)
	require.NotEmpty(t, done.Artifact)

	data, err := os.ReadFile(done.Artifact)
	require.NoError(t, err)
	var doc struct {
		Summary *PHIAccessSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Summary.TotalAccesses)
}

func TestProcessReport_InvalidParamsFail(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()

	job, err := f.svc.Schedule(ctx, report.KindUserActivity,
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), nil,
		map[string]interface{}{"user_id": "not-a-uuid"})
	require.NoError(t, err)

	f.svc.processReport(ctx, job.ID)

	done, err := f.svc.GetReport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusFailed, done.Status)
	assert.Contains(t, done.Error, "user_id")
}

func TestRecoverStale(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()

	stuck, err := report.NewComplianceReport(report.KindDailyAudit,
		time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), nil, nil)
	require.NoError(t, err)
	require.NoError(t, stuck.MarkProcessing(time.Now().Add(-2*time.Hour)))
	require.NoError(t, f.repo.InsertReport(ctx, stuck))

	fresh, err := report.NewComplianceReport(report.KindDailyAudit,
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), nil, nil)
	require.NoError(t, err)
	require.NoError(t, fresh.MarkProcessing(time.Now()))
	require.NoError(t, f.repo.InsertReport(ctx, fresh))

	require.NoError(t, f.svc.RecoverStale(ctx))

	recovered, err := f.svc.GetReport(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusFailed, recovered.Status)

	untouched, err := f.svc.GetReport(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusProcessing, untouched.Status)
}

func TestWorkerPool_ProcessesScheduledJob(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Start(ctx))
	defer f.svc.Stop()

	job, err := f.svc.Schedule(ctx, report.KindSystemAccess,
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		done, err := f.svc.GetReport(ctx, job.ID)
		return err == nil && done.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	done, err := f.svc.GetReport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, done.Status)
}

func TestScheduleExport_ValidatesFilters(t *testing.T) {
	f := newPipeline(t)
	_, err := f.svc.ScheduleExport(context.Background(), uuid.New(), "access",
		map[string]interface{}{"start": "03/09/2026"})
	require.Error(t, err)
}

func TestProcessExport_Lifecycle(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()

	event, err := audit.NewAccessEvent(audit.AccessExport, "lab_result", "referral")
	require.NoError(t, err)
	require.NoError(t, f.access.Insert(ctx, event))

	job, err := f.svc.ScheduleExport(ctx, uuid.New(), "access", nil)
	require.NoError(t, err)

	f.svc.processExport(ctx, job.ID)

	done, err := f.svc.GetExport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.Artifact)
	require.NotNil(t, done.CompletedAt)
}
