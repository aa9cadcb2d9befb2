package alerts

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

func securityEvent(t *testing.T, kind audit.SecurityEventKind, severity audit.Severity) *audit.SecurityEvent {
	t.Helper()
	event, err := audit.NewSecurityEvent(kind, "synthetic", severity)
	require.NoError(t, err)
	return event
}

func TestScoreEvents_ReferenceVector(t *testing.T) {
	// 1 unresolved critical, 3 high-or-critical total, 10 suspicious-access,
	// 2 permission violations, 6 repeat login groups:
	// 30 + min(3x5,30) + min(10x2,20) + min(2x3,15) + min(6x1,5) = 76.
	var events []*audit.SecurityEvent

	events = append(events, securityEvent(t, audit.SecuritySystemError, audit.SeverityCritical))
	events = append(events, securityEvent(t, audit.SecurityUnusualActivity, audit.SeverityHigh))
	events = append(events, securityEvent(t, audit.SecurityBruteForceAttempt, audit.SeverityHigh))

	for i := 0; i < 10; i++ {
		events = append(events, securityEvent(t, audit.SecuritySuspiciousAccess, audit.SeverityLow))
	}
	for i := 0; i < 2; i++ {
		events = append(events, securityEvent(t, audit.SecurityPermissionViolation, audit.SeverityMedium))
	}
	for g := 0; g < 6; g++ {
		for i := 0; i < 2; i++ {
			e := securityEvent(t, audit.SecurityLoginFailed, audit.SeverityMedium)
			e.ClientIP = fmt.Sprintf("198.51.100.%d", g)
			e.Metadata["username"] = fmt.Sprintf("user%d", g)
			events = append(events, e)
		}
	}

	a := ScoreEvents(events)
	assert.Equal(t, 76, a.Score)
	assert.Equal(t, RiskCritical, a.Level)
	assert.Equal(t, 1, a.UnresolvedCritical)
	assert.Equal(t, 3, a.HighOrCritical)
	assert.Equal(t, 10, a.SuspiciousAccess)
	assert.Equal(t, 2, a.PermissionViolations)
	assert.Equal(t, 6, a.RepeatLoginGroups)
}

func TestScoreEvents_EmptyWindow(t *testing.T) {
	a := ScoreEvents(nil)
	assert.Zero(t, a.Score)
	assert.Equal(t, RiskLow, a.Level)
}

func TestScoreEvents_ResolvedCriticalDoesNotAddBase(t *testing.T) {
	e := securityEvent(t, audit.SecuritySystemError, audit.SeverityCritical)
	e.Resolved = true

	a := ScoreEvents([]*audit.SecurityEvent{e})
	// Still counts as high-or-critical, but not as unresolved critical.
	assert.Equal(t, 5, a.Score)
	assert.Zero(t, a.UnresolvedCritical)
	assert.Equal(t, 1, a.HighOrCritical)
}

func TestScoreEvents_CapsApplyPerFactor(t *testing.T) {
	var events []*audit.SecurityEvent
	for i := 0; i < 100; i++ {
		events = append(events, securityEvent(t, audit.SecuritySuspiciousAccess, audit.SeverityLow))
	}
	a := ScoreEvents(events)
	// 100 suspicious accesses cap at 20, not 200.
	assert.Equal(t, 20, a.Score)
	assert.Equal(t, RiskLow, a.Level)
}

func TestScoreEvents_SingleFailedLoginIsNotARepeatGroup(t *testing.T) {
	e := securityEvent(t, audit.SecurityLoginFailed, audit.SeverityMedium)
	e.ClientIP = "198.51.100.7"
	e.Metadata["username"] = "jdoe"

	a := ScoreEvents([]*audit.SecurityEvent{e})
	assert.Zero(t, a.RepeatLoginGroups)
	assert.Zero(t, a.Score)
}

func TestLevelBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLow},
		{30, RiskLow},
		{31, RiskMedium},
		{50, RiskMedium},
		{51, RiskHigh},
		{70, RiskHigh},
		{71, RiskCritical},
		{100, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelFor(tt.score), "score %d", tt.score)
	}
}
