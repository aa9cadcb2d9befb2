package alerts

import (
	"context"
	"time"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

const riskPageSize = 1000

// RiskLevel bands the numeric score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the deterministic aggregate over the risk window. The
// per-factor inputs are kept so the score can be audited.
type RiskAssessment struct {
	Score       int       `json:"score"`
	Level       RiskLevel `json:"level"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	GeneratedAt time.Time `json:"generated_at"`

	UnresolvedCritical   int `json:"unresolved_critical"`
	HighOrCritical       int `json:"high_or_critical"`
	SuspiciousAccess     int `json:"suspicious_access"`
	PermissionViolations int `json:"permission_violations"`
	RepeatLoginGroups    int `json:"repeat_login_groups"`
}

// AssessRisk computes the organizational risk score over the configured
// window. Each factor is capped before summation; the order is part of the
// contract and reproduced exactly by ScoreEvents.
func (s *Service) AssessRisk(ctx context.Context) (*RiskAssessment, error) {
	now := s.now().UTC()
	window := audit.TimeRange{Start: now.Add(-s.cfg.RiskWindow), End: now}

	var events []*audit.SecurityEvent
	for offset := 0; ; offset += riskPageSize {
		page, err := s.repo.Query(ctx, audit.SecurityFilter{
			Range:  window,
			Limit:  riskPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
		if len(page) < riskPageSize {
			break
		}
	}

	assessment := ScoreEvents(events)
	assessment.WindowStart = window.Start
	assessment.WindowEnd = window.End
	assessment.GeneratedAt = now
	return assessment, nil
}

// ScoreEvents folds a fixed event set into the risk score:
//
//	+30 if any unresolved critical event exists
//	+min(5 x high-or-critical, 30)
//	+min(2 x suspicious-access, 20)
//	+min(3 x permission-violation, 15)
//	+min(1 x repeat-login-failure-groups, 5)
func ScoreEvents(events []*audit.SecurityEvent) *RiskAssessment {
	a := &RiskAssessment{}

	loginGroups := make(map[loginGroupKey]int)
	for _, e := range events {
		if e.Severity == audit.SeverityCritical && !e.Resolved {
			a.UnresolvedCritical++
		}
		if e.Severity.AtLeast(audit.SeverityHigh) {
			a.HighOrCritical++
		}
		switch e.Kind {
		case audit.SecuritySuspiciousAccess:
			a.SuspiciousAccess++
		case audit.SecurityPermissionViolation:
			a.PermissionViolations++
		case audit.SecurityLoginFailed:
			key := loginGroupKey{
				username: e.Metadata.GetString("username"),
				clientIP: e.ClientIP,
			}
			loginGroups[key]++
		}
	}
	for _, count := range loginGroups {
		if count > 1 {
			a.RepeatLoginGroups++
		}
	}

	score := 0
	if a.UnresolvedCritical > 0 {
		score += 30
	}
	score += capAt(5*a.HighOrCritical, 30)
	score += capAt(2*a.SuspiciousAccess, 20)
	score += capAt(3*a.PermissionViolations, 15)
	score += capAt(1*a.RepeatLoginGroups, 5)

	a.Score = score
	a.Level = levelFor(score)
	return a
}

type loginGroupKey struct {
	username string
	clientIP string
}

func capAt(v, cap int) int {
	if v > cap {
		return cap
	}
	return v
}

func levelFor(score int) RiskLevel {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 50:
		return RiskMedium
	case score <= 70:
		return RiskHigh
	}
	return RiskCritical
}
