package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

// RapidAccessHeuristic buckets accesses by actor and calendar hour. A bucket
// exceeding twice the volume threshold suggests scripted record walking.
type RapidAccessHeuristic struct {
	cfg config.DetectionConfig
}

func NewRapidAccessHeuristic(cfg config.DetectionConfig) *RapidAccessHeuristic {
	return &RapidAccessHeuristic{cfg: cfg}
}

func (h *RapidAccessHeuristic) Name() string { return "rapid_access" }

type hourBucket struct {
	actor uuid.UUID
	hour  time.Time
}

func (h *RapidAccessHeuristic) Evaluate(_ context.Context, snap *Snapshot) ([]Finding, error) {
	buckets := make(map[hourBucket]int)
	for _, e := range snap.Accesses {
		if e.ActorID == nil {
			continue
		}
		key := hourBucket{actor: *e.ActorID, hour: e.Timestamp.UTC().Truncate(time.Hour)}
		buckets[key]++
	}

	threshold := 2 * h.cfg.VolumeThreshold
	var findings []Finding
	for key, count := range buckets {
		if count <= threshold {
			continue
		}
		id := key.actor
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityMedium,
			ActorID:  &id,
			Description: fmt.Sprintf("%d record accesses within the hour starting %s (threshold %d)",
				count, key.hour.Format("2006-01-02 15:04"), threshold),
			Metadata: audit.Metadata{
				"hour_bucket":  key.hour.Format(time.RFC3339),
				"access_count": count,
				"threshold":    threshold,
			},
		})
	}
	return findings, nil
}
