package detection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/cache"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		Lookback:             24 * time.Hour,
		VolumeThreshold:      20,
		CaseloadThreshold:    3,
		BusinessHoursStart:   "08:00",
		BusinessHoursEnd:     "18:00",
		WeekendDays:          []string{"Saturday", "Sunday"},
		VolumeExemptRoles:    []string{"admin", "compliance"},
		AfterHoursExemptRole: []string{"admin", "emergency_provider"},
		FailedLoginWindow:    15 * time.Minute,
		FailedLoginThreshold: 5,
	}
}

// Tuesday inside business hours.
var businessNoon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func accessAt(actor uuid.UUID, role string, subject uuid.UUID, ts time.Time) *audit.AccessEvent {
	event, err := audit.NewAccessEvent(audit.AccessView, "medical_record", "review")
	if err != nil {
		panic(err)
	}
	event.ActorID = &actor
	event.ActorRole = role
	event.SubjectID = &subject
	event.Timestamp = ts
	return event
}

func snapshotOf(accesses ...*audit.AccessEvent) *Snapshot {
	return &Snapshot{
		Window:   audit.TimeRange{Start: businessNoon.Add(-24 * time.Hour), End: businessNoon},
		Now:      businessNoon,
		Accesses: accesses,
	}
}

func TestHighVolumeHeuristic_StrictThreshold(t *testing.T) {
	h := NewHighVolumeHeuristic(testDetectionConfig())
	actor := uuid.New()

	var accesses []*audit.AccessEvent
	for i := 0; i < 20; i++ {
		accesses = append(accesses, accessAt(actor, "provider", uuid.New(), businessNoon))
	}

	// Exactly the threshold: nothing.
	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)

	// One more crosses it.
	accesses = append(accesses, accessAt(actor, "provider", uuid.New(), businessNoon))
	findings, err = h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, audit.SecurityUnusualActivity, findings[0].Kind)
	assert.Equal(t, audit.SeverityMedium, findings[0].Severity)
	assert.Equal(t, actor, *findings[0].ActorID)
}

func TestHighVolumeHeuristic_ExemptRoles(t *testing.T) {
	h := NewHighVolumeHeuristic(testDetectionConfig())
	admin := uuid.New()

	var accesses []*audit.AccessEvent
	for i := 0; i < 50; i++ {
		accesses = append(accesses, accessAt(admin, "compliance", uuid.New(), businessNoon))
	}

	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDistinctSubjectsHeuristic(t *testing.T) {
	h := NewDistinctSubjectsHeuristic(testDetectionConfig())
	actor := uuid.New()
	repeat := uuid.New()

	// 30 accesses but only 2 distinct subjects: quiet.
	var accesses []*audit.AccessEvent
	for i := 0; i < 30; i++ {
		accesses = append(accesses, accessAt(actor, "provider", repeat, businessNoon))
	}
	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)

	// 21 distinct subjects crosses the threshold.
	accesses = nil
	for i := 0; i < 21; i++ {
		accesses = append(accesses, accessAt(actor, "provider", uuid.New(), businessNoon))
	}
	findings, err = h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 21, findings[0].Metadata["distinct_subjects"])
}

func TestAfterHoursHeuristic(t *testing.T) {
	h := NewAfterHoursHeuristic(testDetectionConfig())
	provider := uuid.New()
	self := uuid.New()

	evening := time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)
	saturday := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	selfAccess := accessAt(self, "patient", self, evening)

	findings, err := h.Evaluate(context.Background(), snapshotOf(
		accessAt(provider, "provider", uuid.New(), businessNoon),
		accessAt(provider, "provider", uuid.New(), evening),
		accessAt(provider, "provider", uuid.New(), saturday),
		accessAt(uuid.New(), "emergency_provider", uuid.New(), evening),
		selfAccess,
	))
	require.NoError(t, err)
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, audit.SecurityUnusualActivity, f.Kind)
		assert.Equal(t, audit.SeverityLow, f.Severity)
		assert.Equal(t, provider, *f.ActorID)
	}
}

func TestAfterHoursHeuristic_MalformedClockFallsBack(t *testing.T) {
	cfg := testDetectionConfig()
	cfg.BusinessHoursStart = "not-a-clock"
	cfg.BusinessHoursEnd = "25:99"
	h := NewAfterHoursHeuristic(cfg)
	provider := uuid.New()

	evening := time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)
	findings, err := h.Evaluate(context.Background(), snapshotOf(
		accessAt(provider, "provider", uuid.New(), businessNoon),
		accessAt(provider, "provider", uuid.New(), evening),
	))
	require.NoError(t, err)

	// The 08:00-18:00 defaults apply: noon is fine, 21:30 is not.
	require.Len(t, findings, 1)
	assert.Equal(t, audit.SecurityUnusualActivity, findings[0].Kind)
}

func TestAfterHoursHeuristic_AggregateFinding(t *testing.T) {
	h := NewAfterHoursHeuristic(testDetectionConfig())
	actor := uuid.New()
	evening := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)

	// 11 after-hours accesses > half the volume threshold (10).
	var accesses []*audit.AccessEvent
	for i := 0; i < 11; i++ {
		accesses = append(accesses, accessAt(actor, "provider", uuid.New(), evening))
	}

	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	require.Len(t, findings, 12)

	var aggregates []Finding
	for _, f := range findings {
		if f.Severity == audit.SeverityMedium {
			aggregates = append(aggregates, f)
		}
	}
	require.Len(t, aggregates, 1)
	assert.Equal(t, audit.SecurityUnusualActivity, aggregates[0].Kind)
	assert.Equal(t, 11, aggregates[0].Metadata["after_hours_count"])
}

func TestCaseloadHeuristic(t *testing.T) {
	cfg := testDetectionConfig()
	provider := uuid.New()
	assigned := []uuid.UUID{uuid.New(), uuid.New()}
	directory := &cache.StaticDirectory{
		Roles:     map[uuid.UUID]string{provider: "provider"},
		Caseloads: map[uuid.UUID][]uuid.UUID{provider: assigned},
	}
	h := NewCaseloadHeuristic(cfg, directory)

	// 3 outside accesses: at threshold, quiet. In-caseload reads don't count.
	accesses := []*audit.AccessEvent{
		accessAt(provider, "provider", assigned[0], businessNoon),
		accessAt(provider, "provider", uuid.New(), businessNoon),
		accessAt(provider, "provider", uuid.New(), businessNoon),
		accessAt(provider, "provider", uuid.New(), businessNoon),
	}
	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)

	// A fourth outside access produces a single summary finding.
	accesses = append(accesses, accessAt(provider, "provider", uuid.New(), businessNoon))
	findings, err = h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, audit.SecurityUnusualActivity, findings[0].Kind)
	assert.Equal(t, audit.SeverityMedium, findings[0].Severity)
	assert.Equal(t, 4, findings[0].Metadata["outside_caseload_count"])
}

func TestCaseloadHeuristic_RepeatedSubjectCounts(t *testing.T) {
	provider := uuid.New()
	directory := &cache.StaticDirectory{
		Roles:     map[uuid.UUID]string{provider: "provider"},
		Caseloads: map[uuid.UUID][]uuid.UUID{provider: nil},
	}
	h := NewCaseloadHeuristic(testDetectionConfig(), directory)

	// Four reads of one outside patient still cross the access threshold.
	outside := uuid.New()
	var accesses []*audit.AccessEvent
	for i := 0; i < 4; i++ {
		accesses = append(accesses, accessAt(provider, "provider", outside, businessNoon))
	}

	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 4, findings[0].Metadata["outside_caseload_count"])
}

func TestCaseloadHeuristic_IgnoresNonProviders(t *testing.T) {
	directory := &cache.StaticDirectory{}
	h := NewCaseloadHeuristic(testDetectionConfig(), directory)
	nurse := uuid.New()

	var accesses []*audit.AccessEvent
	for i := 0; i < 10; i++ {
		accesses = append(accesses, accessAt(nurse, "nurse", uuid.New(), businessNoon))
	}

	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestRapidAccessHeuristic(t *testing.T) {
	h := NewRapidAccessHeuristic(testDetectionConfig())
	actor := uuid.New()
	hour := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	// 40 in one hour is exactly 2x threshold: quiet.
	var accesses []*audit.AccessEvent
	for i := 0; i < 40; i++ {
		accesses = append(accesses, accessAt(actor, "provider", uuid.New(), hour.Add(time.Duration(i)*time.Minute)))
	}
	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)

	// 41 in the same calendar hour crosses it.
	accesses = append(accesses, accessAt(actor, "provider", uuid.New(), hour.Add(30*time.Second)))
	findings, err = h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 41, findings[0].Metadata["access_count"])
}

func TestRapidAccessHeuristic_SeparateHoursDoNotAccumulate(t *testing.T) {
	h := NewRapidAccessHeuristic(testDetectionConfig())
	actor := uuid.New()

	var accesses []*audit.AccessEvent
	for i := 0; i < 60; i++ {
		// Spread one per hour.
		accesses = append(accesses, accessAt(actor, "provider", uuid.New(),
			businessNoon.Add(-time.Duration(i)*time.Hour)))
	}
	findings, err := h.Evaluate(context.Background(), snapshotOf(accesses...))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func failedLogin(username, ip string, ts time.Time) *audit.ActivityEvent {
	event, err := audit.NewActivityEvent(audit.ActivityLoginFailed, "session", "failed login")
	if err != nil {
		panic(err)
	}
	event.ClientIP = ip
	event.Timestamp = ts
	event.Metadata = audit.Metadata{"username": username}
	return event
}

func TestBruteForceHeuristic(t *testing.T) {
	h := NewBruteForceHeuristic(testDetectionConfig())
	now := businessNoon

	var logins []*audit.ActivityEvent
	for i := 0; i < 4; i++ {
		logins = append(logins, failedLogin("jdoe", "198.51.100.7", now.Add(-time.Duration(i)*time.Minute)))
	}

	// Four attempts is below the threshold.
	findings, err := h.Evaluate(context.Background(), &Snapshot{Now: now, FailedLogins: logins})
	require.NoError(t, err)
	assert.Empty(t, findings)

	// The fifth attempt reaches it: >= comparison.
	logins = append(logins, failedLogin("jdoe", "198.51.100.7", now))
	findings, err = h.Evaluate(context.Background(), &Snapshot{Now: now, FailedLogins: logins})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, audit.SecurityBruteForceAttempt, findings[0].Kind)
	assert.Equal(t, audit.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "jdoe", findings[0].Metadata.GetString("username"))
}

func TestBruteForceHeuristic_GroupsByUsernameAndIP(t *testing.T) {
	h := NewBruteForceHeuristic(testDetectionConfig())
	now := businessNoon

	var logins []*audit.ActivityEvent
	// Same username from two IPs, 4 attempts each: no group reaches 5.
	for i := 0; i < 4; i++ {
		logins = append(logins, failedLogin("jdoe", "198.51.100.7", now))
		logins = append(logins, failedLogin("jdoe", "203.0.113.50", now))
	}
	findings, err := h.Evaluate(context.Background(), &Snapshot{Now: now, FailedLogins: logins})
	require.NoError(t, err)
	assert.Empty(t, findings)

	// Two separate groups each reaching 5 produce one finding each.
	logins = append(logins, failedLogin("jdoe", "198.51.100.7", now))
	logins = append(logins, failedLogin("jdoe", "203.0.113.50", now))
	findings, err = h.Evaluate(context.Background(), &Snapshot{Now: now, FailedLogins: logins})
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestWatchListHeuristic(t *testing.T) {
	watched := uuid.New()
	directory := &cache.StaticDirectory{WatchList: map[uuid.UUID]bool{watched: true}}
	h := NewWatchListHeuristic(directory)
	actor := uuid.New()

	findings, err := h.Evaluate(context.Background(), snapshotOf(
		accessAt(actor, "provider", watched, businessNoon),
		accessAt(actor, "provider", uuid.New(), businessNoon),
	))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, audit.SeverityHigh, findings[0].Severity)
	assert.Equal(t, watched.String(), findings[0].Metadata.GetString("subject_id"))
}

func TestWatchListHeuristic_FlagsSelfAccess(t *testing.T) {
	watched := uuid.New()
	directory := &cache.StaticDirectory{WatchList: map[uuid.UUID]bool{watched: true}}
	h := NewWatchListHeuristic(directory)

	// Watch-listed records are flagged even when the patient reads their own.
	findings, err := h.Evaluate(context.Background(), snapshotOf(
		accessAt(watched, "patient", watched, businessNoon),
	))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, audit.SeverityHigh, findings[0].Severity)
}
