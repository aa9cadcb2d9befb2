package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/infrastructure/config"
)

// AfterHoursHeuristic flags protected-record access outside business hours
// or on weekend days. Self-access and exempt roles (on-call and emergency
// staff) are skipped. Each offending access yields a low finding; an actor
// whose after-hours count exceeds half the volume threshold additionally
// gets one medium aggregate finding.
type AfterHoursHeuristic struct {
	cfg     config.DetectionConfig
	start   config.Clock
	end     config.Clock
	weekend map[time.Weekday]bool
}

// Business-hours fallbacks when a clock string does not parse. Loaded
// configuration never reaches here malformed; config.Validate rejects it.
const (
	defaultBusinessStart = config.Clock(8 * 60)
	defaultBusinessEnd   = config.Clock(18 * 60)
)

func NewAfterHoursHeuristic(cfg config.DetectionConfig) *AfterHoursHeuristic {
	start, err := config.ParseClock(cfg.BusinessHoursStart)
	if err != nil {
		start = defaultBusinessStart
	}
	end, err := config.ParseClock(cfg.BusinessHoursEnd)
	if err != nil {
		end = defaultBusinessEnd
	}
	return &AfterHoursHeuristic{
		cfg:     cfg,
		start:   start,
		end:     end,
		weekend: config.Weekdays(cfg.WeekendDays),
	}
}

func (h *AfterHoursHeuristic) Name() string { return "after_hours" }

func (h *AfterHoursHeuristic) Evaluate(_ context.Context, snap *Snapshot) ([]Finding, error) {
	var findings []Finding
	perActor := make(map[uuid.UUID]int)

	for _, e := range snap.Accesses {
		if !h.outsideBusinessHours(e.Timestamp) {
			continue
		}
		if e.IsSelfAccess() {
			continue
		}
		if exemptRole(e.ActorRole, h.cfg.AfterHoursExemptRole) {
			continue
		}

		if e.ActorID != nil {
			perActor[*e.ActorID]++
		}
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityLow,
			ActorID:  e.ActorID,
			Description: fmt.Sprintf("protected record accessed outside business hours at %s",
				e.Timestamp.Format("2006-01-02 15:04:05")),
			Metadata: audit.Metadata{
				"access_event_id": e.ID.String(),
				"record_type":     e.RecordType,
			},
		})
	}

	aggregateThreshold := h.cfg.VolumeThreshold / 2
	for actor, count := range perActor {
		if count <= aggregateThreshold {
			continue
		}
		id := actor
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityMedium,
			ActorID:  &id,
			Description: fmt.Sprintf("%d after-hours accesses in %s (threshold %d)",
				count, h.cfg.Lookback, aggregateThreshold),
			Metadata: audit.Metadata{
				"after_hours_count": count,
				"threshold":         aggregateThreshold,
			},
		})
	}
	return findings, nil
}

func (h *AfterHoursHeuristic) outsideBusinessHours(t time.Time) bool {
	if h.weekend[t.Weekday()] {
		return true
	}
	m := config.Minutes(t)
	return m < h.start || m >= h.end
}
