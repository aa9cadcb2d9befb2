package detection

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

// HighVolumeHeuristic flags actors whose access count in the window exceeds
// the volume threshold. The comparison is strictly greater-than: exactly the
// threshold is normal workload.
type HighVolumeHeuristic struct {
	cfg config.DetectionConfig
}

func NewHighVolumeHeuristic(cfg config.DetectionConfig) *HighVolumeHeuristic {
	return &HighVolumeHeuristic{cfg: cfg}
}

func (h *HighVolumeHeuristic) Name() string { return "high_volume" }

func (h *HighVolumeHeuristic) Evaluate(_ context.Context, snap *Snapshot) ([]Finding, error) {
	counts := make(map[uuid.UUID]int)
	roles := make(map[uuid.UUID]string)
	for _, e := range snap.Accesses {
		if e.ActorID == nil {
			continue
		}
		counts[*e.ActorID]++
		roles[*e.ActorID] = e.ActorRole
	}

	var findings []Finding
	for actor, count := range counts {
		if count <= h.cfg.VolumeThreshold {
			continue
		}
		if exemptRole(roles[actor], h.cfg.VolumeExemptRoles) {
			continue
		}
		id := actor
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityMedium,
			ActorID:  &id,
			Description: fmt.Sprintf("accessed %d protected records in %s (threshold %d)",
				count, h.cfg.Lookback, h.cfg.VolumeThreshold),
			Metadata: audit.Metadata{
				"access_count": count,
				"threshold":    h.cfg.VolumeThreshold,
			},
		})
	}
	return findings, nil
}

// DistinctSubjectsHeuristic is the patient-breadth variant of the volume
// rule: many distinct subjects is suspicious even when each is touched once.
type DistinctSubjectsHeuristic struct {
	cfg config.DetectionConfig
}

func NewDistinctSubjectsHeuristic(cfg config.DetectionConfig) *DistinctSubjectsHeuristic {
	return &DistinctSubjectsHeuristic{cfg: cfg}
}

func (h *DistinctSubjectsHeuristic) Name() string { return "distinct_subjects" }

func (h *DistinctSubjectsHeuristic) Evaluate(_ context.Context, snap *Snapshot) ([]Finding, error) {
	subjects := make(map[uuid.UUID]map[uuid.UUID]bool)
	roles := make(map[uuid.UUID]string)
	for _, e := range snap.Accesses {
		if e.ActorID == nil || e.SubjectID == nil {
			continue
		}
		if subjects[*e.ActorID] == nil {
			subjects[*e.ActorID] = make(map[uuid.UUID]bool)
		}
		subjects[*e.ActorID][*e.SubjectID] = true
		roles[*e.ActorID] = e.ActorRole
	}

	var findings []Finding
	for actor, seen := range subjects {
		if len(seen) <= h.cfg.VolumeThreshold {
			continue
		}
		if exemptRole(roles[actor], h.cfg.VolumeExemptRoles) {
			continue
		}
		id := actor
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityMedium,
			ActorID:  &id,
			Description: fmt.Sprintf("accessed records of %d distinct patients in %s (threshold %d)",
				len(seen), h.cfg.Lookback, h.cfg.VolumeThreshold),
			Metadata: audit.Metadata{
				"distinct_subjects": len(seen),
				"threshold":         h.cfg.VolumeThreshold,
			},
		})
	}
	return findings, nil
}

func exemptRole(role string, exempt []string) bool {
	for _, e := range exempt {
		if role == e {
			return true
		}
	}
	return false
}
