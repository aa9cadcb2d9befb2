package detection

import (
	"context"
	"fmt"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

// WatchListHeuristic raises one high finding for every access to a
// watch-listed patient record, self-access included. Watch-listed subjects
// are typically VIPs, staff members, or records under an active
// investigation.
type WatchListHeuristic struct {
	directory Directory
}

func NewWatchListHeuristic(directory Directory) *WatchListHeuristic {
	return &WatchListHeuristic{directory: directory}
}

func (h *WatchListHeuristic) Name() string { return "watch_list" }

func (h *WatchListHeuristic) Evaluate(ctx context.Context, snap *Snapshot) ([]Finding, error) {
	var findings []Finding
	for _, e := range snap.Accesses {
		if e.SubjectID == nil {
			continue
		}
		listed, err := h.directory.WatchListed(ctx, *e.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("checking watch list: %w", err)
		}
		if !listed {
			continue
		}
		findings = append(findings, Finding{
			Kind:     audit.SecurityUnusualActivity,
			Severity: audit.SeverityHigh,
			ActorID:  e.ActorID,
			Description: fmt.Sprintf("watch-listed patient record accessed (%s %s)",
				e.Kind, e.RecordType),
			Metadata: audit.Metadata{
				"subject_id":      e.SubjectID.String(),
				"access_event_id": e.ID.String(),
			},
		})
	}
	return findings, nil
}
