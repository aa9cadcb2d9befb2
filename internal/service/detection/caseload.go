package detection

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

// CaseloadHeuristic compares provider access against the provider's assigned
// caseload. A provider with more than the threshold of out-of-caseload
// accesses in the window gets one medium summary finding. Repeated reads of
// the same patient each count.
type CaseloadHeuristic struct {
	cfg       config.DetectionConfig
	directory Directory
}

func NewCaseloadHeuristic(cfg config.DetectionConfig, directory Directory) *CaseloadHeuristic {
	return &CaseloadHeuristic{cfg: cfg, directory: directory}
}

func (h *CaseloadHeuristic) Name() string { return "outside_caseload" }

func (h *CaseloadHeuristic) Evaluate(ctx context.Context, snap *Snapshot) ([]Finding, error) {
	// Out-of-caseload accesses per provider.
	outside := make(map[uuid.UUID]int)

	for _, e := range snap.Accesses {
		if e.ActorID == nil || e.SubjectID == nil || e.IsSelfAccess() {
			continue
		}
		role := e.ActorRole
		if role == "" {
			var err error
			role, err = h.directory.Role(ctx, *e.ActorID)
			if err != nil {
				return nil, fmt.Errorf("resolving actor role: %w", err)
			}
		}
		if role != "provider" {
			continue
		}

		caseload, err := h.directory.Caseload(ctx, *e.ActorID)
		if err != nil {
			return nil, fmt.Errorf("resolving caseload: %w", err)
		}
		if containsID(caseload, *e.SubjectID) {
			continue
		}
		outside[*e.ActorID]++
	}

	var findings []Finding
	for provider, count := range outside {
		if count <= h.cfg.CaseloadThreshold {
			continue
		}
		id := provider
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityMedium,
			ActorID:  &id,
			Description: fmt.Sprintf("provider made %d accesses outside assigned caseload (threshold %d)",
				count, h.cfg.CaseloadThreshold),
			Metadata: audit.Metadata{
				"outside_caseload_count": count,
				"threshold":              h.cfg.CaseloadThreshold,
			},
		})
	}
	return findings, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
