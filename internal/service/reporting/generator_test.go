package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/cache"
	"github.com/caretrail/audit-backend/internal/infrastructure/repository"
)

var reportDay = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func dayWindow() audit.TimeRange {
	return audit.TimeRange{Start: reportDay, End: reportDay.AddDate(0, 0, 1)}
}

func insertAccess(t *testing.T, repo *repository.MemoryAccessRepository, actor uuid.UUID, role string, subject uuid.UUID, kind audit.AccessKind, reason string, ts time.Time) {
	t.Helper()
	event, err := audit.NewAccessEvent(kind, "medical_record", reason)
	require.NoError(t, err)
	event.ActorID = &actor
	event.ActorRole = role
	event.SubjectID = &subject
	event.Timestamp = ts
	require.NoError(t, repo.Insert(context.Background(), event))
}

func TestPHIAccess_MissingReasonRatio(t *testing.T) {
	access := repository.NewMemoryAccessRepository()
	g := NewGenerator(repository.NewMemoryActivityRepository(), access,
		repository.NewMemorySecurityEventRepository(), &cache.StaticDirectory{})

	actor := uuid.New()
	ts := reportDay.Add(9 * time.Hour)
	insertAccess(t, access, actor, "provider", uuid.New(), audit.AccessView, "rounds", ts)
	insertAccess(t, access, actor, "provider", uuid.New(), audit.AccessView, "", ts)
	insertAccess(t, access, actor, "provider", uuid.New(), audit.AccessView, audit.ReasonSentinel, ts)
	insertAccess(t, access, actor, "provider", uuid.New(), audit.AccessModify, "med change", ts)

	summary, err := g.PHIAccess(context.Background(), dayWindow())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalAccesses)
	assert.Equal(t, 2, summary.MissingReason)
	assert.InDelta(t, 0.5, summary.MissingRatio, 1e-9)
	assert.Equal(t, 3, summary.ByKind["view"])
	assert.Equal(t, 1, summary.ByKind["modify"])
	require.Len(t, summary.TopActors, 1)
	assert.Equal(t, 4, summary.TopActors[0].Count)
}

func TestSecurityIncidents_MeanResolutionHours(t *testing.T) {
	security := repository.NewMemorySecurityEventRepository()
	g := NewGenerator(repository.NewMemoryActivityRepository(),
		repository.NewMemoryAccessRepository(), security, &cache.StaticDirectory{})
	ctx := context.Background()

	resolved, err := audit.NewSecurityEvent(audit.SecurityUnusualActivity, "spike", audit.SeverityMedium)
	require.NoError(t, err)
	resolved.Timestamp = reportDay.Add(8 * time.Hour)
	resolved.Resolve(uuid.New(), "benign", reportDay.Add(12*time.Hour))
	require.NoError(t, security.Insert(ctx, resolved))

	open, err := audit.NewSecurityEvent(audit.SecurityBruteForceAttempt, "stuffing", audit.SeverityHigh)
	require.NoError(t, err)
	open.Timestamp = reportDay.Add(9 * time.Hour)
	require.NoError(t, security.Insert(ctx, open))

	summary, err := g.SecurityIncidents(ctx, dayWindow())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalIncidents)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, summary.Unresolved)
	assert.InDelta(t, 4.0, summary.MeanResolutionHours, 1e-9)
	assert.Equal(t, 1, summary.BySeverity["high"])
}

func TestMinimumNecessary_FlagsTwiceMeanAndOutsideCaseload(t *testing.T) {
	accessRepo := repository.NewMemoryAccessRepository()
	heavy := uuid.New()
	light1, light2, light3 := uuid.New(), uuid.New(), uuid.New()
	assigned := uuid.New()
	outside := uuid.New()

	directory := &cache.StaticDirectory{
		Caseloads: map[uuid.UUID][]uuid.UUID{heavy: {assigned}},
	}
	g := NewGenerator(repository.NewMemoryActivityRepository(), accessRepo,
		repository.NewMemorySecurityEventRepository(), directory)

	ts := reportDay.Add(10 * time.Hour)
	// Heavy actor: 10 accesses, one subject outside the caseload.
	for i := 0; i < 9; i++ {
		insertAccess(t, accessRepo, heavy, "provider", assigned, audit.AccessView, "care", ts)
	}
	insertAccess(t, accessRepo, heavy, "provider", outside, audit.AccessView, "care", ts)
	// Three light actors with one access each: mean is (10+1+1+1)/4 = 3.25.
	insertAccess(t, accessRepo, light1, "nurse", assigned, audit.AccessView, "care", ts)
	insertAccess(t, accessRepo, light2, "nurse", assigned, audit.AccessView, "care", ts)
	insertAccess(t, accessRepo, light3, "nurse", assigned, audit.AccessView, "care", ts)

	rpt, err := g.MinimumNecessary(context.Background(), dayWindow())
	require.NoError(t, err)
	assert.InDelta(t, 3.25, rpt.MeanAccessCount, 1e-9)
	require.Len(t, rpt.HighVolume, 1)
	assert.Equal(t, heavy, rpt.HighVolume[0].ActorID)

	require.Len(t, rpt.OutsideCaseload, 1)
	assert.Equal(t, heavy, rpt.OutsideCaseload[0].ProviderID)
	assert.Equal(t, []uuid.UUID{outside}, rpt.OutsideCaseload[0].Subjects)
}

func TestDataSharing(t *testing.T) {
	accessRepo := repository.NewMemoryAccessRepository()
	g := NewGenerator(repository.NewMemoryActivityRepository(), accessRepo,
		repository.NewMemorySecurityEventRepository(), &cache.StaticDirectory{})

	actor := uuid.New()
	ts := reportDay.Add(11 * time.Hour)
	insertAccess(t, accessRepo, actor, "provider", uuid.New(), audit.AccessShare, "referral", ts)
	insertAccess(t, accessRepo, actor, "provider", uuid.New(), audit.AccessExport, "referral", ts)
	insertAccess(t, accessRepo, actor, "provider", uuid.New(), audit.AccessExport, "referral", ts)
	insertAccess(t, accessRepo, actor, "provider", uuid.New(), audit.AccessView, "rounds", ts)

	rpt, err := g.DataSharing(context.Background(), dayWindow())
	require.NoError(t, err)
	assert.Equal(t, 1, rpt.Shares)
	assert.Equal(t, 2, rpt.Exports)
	assert.Zero(t, rpt.Prints)
	assert.Equal(t, 3, rpt.ByRole["provider"])
}

func TestDashboard_DeltaZeroWhenPreviousZero(t *testing.T) {
	accessRepo := repository.NewMemoryAccessRepository()
	g := NewGenerator(repository.NewMemoryActivityRepository(), accessRepo,
		repository.NewMemorySecurityEventRepository(), &cache.StaticDirectory{})

	now := reportDay.Add(15 * time.Hour)
	// Two accesses today, none yesterday.
	insertAccess(t, accessRepo, uuid.New(), "provider", uuid.New(), audit.AccessView, "rounds", reportDay.Add(9*time.Hour))
	insertAccess(t, accessRepo, uuid.New(), "provider", uuid.New(), audit.AccessView, "rounds", reportDay.Add(10*time.Hour))

	m, err := g.Dashboard(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.AccessesToday)
	assert.Zero(t, m.AccessesYesterday)
	assert.Zero(t, m.AccessesDayDelta)
}

func TestDashboard_DayOverDayDelta(t *testing.T) {
	accessRepo := repository.NewMemoryAccessRepository()
	g := NewGenerator(repository.NewMemoryActivityRepository(), accessRepo,
		repository.NewMemorySecurityEventRepository(), &cache.StaticDirectory{})

	now := reportDay.Add(15 * time.Hour)
	yesterday := reportDay.AddDate(0, 0, -1)
	// 3 today vs 2 yesterday: delta (3-2)/2 = 0.5.
	for i := 0; i < 3; i++ {
		insertAccess(t, accessRepo, uuid.New(), "provider", uuid.New(), audit.AccessView, "rounds", reportDay.Add(9*time.Hour))
	}
	for i := 0; i < 2; i++ {
		insertAccess(t, accessRepo, uuid.New(), "provider", uuid.New(), audit.AccessView, "rounds", yesterday.Add(9*time.Hour))
	}

	m, err := g.Dashboard(context.Background(), now)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.AccessesDayDelta, 1e-9)
}

func TestDelta(t *testing.T) {
	assert.Zero(t, delta(5, 0))
	assert.InDelta(t, 1.0, delta(10, 5), 1e-9)
	assert.InDelta(t, -0.5, delta(5, 10), 1e-9)
}
