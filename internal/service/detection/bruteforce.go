package detection

import (
	"context"
	"fmt"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

// BruteForceHeuristic groups failed logins by username and source IP inside
// the failed-login window. Unlike the access heuristics this one compares
// with >=: reaching the threshold already is an attack pattern.
type BruteForceHeuristic struct {
	cfg config.DetectionConfig
}

func NewBruteForceHeuristic(cfg config.DetectionConfig) *BruteForceHeuristic {
	return &BruteForceHeuristic{cfg: cfg}
}

func (h *BruteForceHeuristic) Name() string { return "brute_force" }

type loginGroup struct {
	username string
	clientIP string
}

func (h *BruteForceHeuristic) Evaluate(_ context.Context, snap *Snapshot) ([]Finding, error) {
	groups := make(map[loginGroup]int)
	for _, e := range snap.FailedLogins {
		key := loginGroup{
			username: e.Metadata.GetString("username"),
			clientIP: e.ClientIP,
		}
		groups[key]++
	}

	var findings []Finding
	for group, count := range groups {
		if count < h.cfg.FailedLoginThreshold {
			continue
		}
		findings = append(findings, Finding{
			Kind:     audit.SecurityBruteForceAttempt,
			Severity: audit.SeverityHigh,
			Description: fmt.Sprintf("%d failed logins for %q from %s within %s",
				count, group.username, group.clientIP, h.cfg.FailedLoginWindow),
			Metadata: audit.Metadata{
				"username":     group.username,
				"client_ip":    group.clientIP,
				"failed_count": count,
				"threshold":    h.cfg.FailedLoginThreshold,
			},
		})
	}
	return findings, nil
}
