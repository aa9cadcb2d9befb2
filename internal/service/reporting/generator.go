package reporting

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
)

// Directory resolves provider caseloads for the minimum-necessary report.
type Directory interface {
	Caseload(ctx context.Context, providerID uuid.UUID) ([]uuid.UUID, error)
}

// Generator folds the log store into report documents. All methods operate
// on a half-open window and are deterministic for a fixed store.
type Generator struct {
	activity  audit.ActivityRepository
	access    audit.AccessRepository
	security  audit.SecurityEventRepository
	directory Directory
}

func NewGenerator(
	activity audit.ActivityRepository,
	access audit.AccessRepository,
	security audit.SecurityEventRepository,
	directory Directory,
) *Generator {
	return &Generator{activity: activity, access: access, security: security, directory: directory}
}

const generatorPageSize = 1000

// PHIAccessSummary aggregates the access trail: counts by kind, record type
// and role, plus undocumented-access accounting.
type PHIAccessSummary struct {
	WindowStart   time.Time        `json:"window_start"`
	WindowEnd     time.Time        `json:"window_end"`
	TotalAccesses int              `json:"total_accesses"`
	ByKind        map[string]int   `json:"by_kind"`
	ByRecordType  map[string]int   `json:"by_record_type"`
	ByRole        map[string]int   `json:"by_role"`
	MissingReason int              `json:"missing_reason"`
	MissingRatio  float64          `json:"missing_ratio"`
	TopActors     []ActorAccessRow `json:"top_actors"`
}

type ActorAccessRow struct {
	ActorID  uuid.UUID `json:"actor_id"`
	Role     string    `json:"role"`
	Count    int       `json:"count"`
	Subjects int       `json:"distinct_subjects"`
}

func (g *Generator) PHIAccess(ctx context.Context, window audit.TimeRange) (*PHIAccessSummary, error) {
	accesses, err := g.allAccesses(ctx, window)
	if err != nil {
		return nil, err
	}

	summary := &PHIAccessSummary{
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		ByKind:       make(map[string]int),
		ByRecordType: make(map[string]int),
		ByRole:       make(map[string]int),
	}

	type actorStat struct {
		role     string
		count    int
		subjects map[uuid.UUID]bool
	}
	actors := make(map[uuid.UUID]*actorStat)

	for _, e := range accesses {
		summary.TotalAccesses++
		summary.ByKind[string(e.Kind)]++
		summary.ByRecordType[e.RecordType]++
		summary.ByRole[e.ActorRole]++
		if e.Reason.IsMissing() {
			summary.MissingReason++
		}
		if e.ActorID != nil {
			stat := actors[*e.ActorID]
			if stat == nil {
				stat = &actorStat{role: e.ActorRole, subjects: make(map[uuid.UUID]bool)}
				actors[*e.ActorID] = stat
			}
			stat.count++
			if e.SubjectID != nil {
				stat.subjects[*e.SubjectID] = true
			}
		}
	}

	if summary.TotalAccesses > 0 {
		summary.MissingRatio = float64(summary.MissingReason) / float64(summary.TotalAccesses)
	}
	for id, stat := range actors {
		summary.TopActors = append(summary.TopActors, ActorAccessRow{
			ActorID:  id,
			Role:     stat.role,
			Count:    stat.count,
			Subjects: len(stat.subjects),
		})
	}
	sortRowsByCountDesc(summary.TopActors)
	return summary, nil
}

// SecurityIncidentSummary aggregates security events by kind and severity
// with resolution statistics.
type SecurityIncidentSummary struct {
	WindowStart         time.Time      `json:"window_start"`
	WindowEnd           time.Time      `json:"window_end"`
	TotalIncidents      int            `json:"total_incidents"`
	ByKind              map[string]int `json:"by_kind"`
	BySeverity          map[string]int `json:"by_severity"`
	Resolved            int            `json:"resolved"`
	Unresolved          int            `json:"unresolved"`
	MeanResolutionHours float64        `json:"mean_resolution_hours"`
}

func (g *Generator) SecurityIncidents(ctx context.Context, window audit.TimeRange) (*SecurityIncidentSummary, error) {
	events, err := g.allSecurity(ctx, window)
	if err != nil {
		return nil, err
	}

	summary := &SecurityIncidentSummary{
		WindowStart: window.Start,
		WindowEnd:   window.End,
		ByKind:      make(map[string]int),
		BySeverity:  make(map[string]int),
	}

	var totalHours float64
	for _, e := range events {
		summary.TotalIncidents++
		summary.ByKind[string(e.Kind)]++
		summary.BySeverity[string(e.Severity)]++
		if e.Resolved {
			summary.Resolved++
			totalHours += e.ResolutionHours()
		} else {
			summary.Unresolved++
		}
	}
	if summary.Resolved > 0 {
		summary.MeanResolutionHours = totalHours / float64(summary.Resolved)
	}
	return summary, nil
}

// MinimumNecessaryReport flags actors whose access count exceeds twice the
// population mean, and providers reading patients outside their caseload.
type MinimumNecessaryReport struct {
	WindowStart     time.Time          `json:"window_start"`
	WindowEnd       time.Time          `json:"window_end"`
	MeanAccessCount float64            `json:"mean_access_count"`
	Threshold       float64            `json:"threshold"`
	HighVolume      []ActorAccessRow   `json:"high_volume_actors"`
	OutsideCaseload []CaseloadExcursus `json:"outside_caseload"`
}

type CaseloadExcursus struct {
	ProviderID uuid.UUID   `json:"provider_id"`
	Subjects   []uuid.UUID `json:"subjects"`
}

func (g *Generator) MinimumNecessary(ctx context.Context, window audit.TimeRange) (*MinimumNecessaryReport, error) {
	accesses, err := g.allAccesses(ctx, window)
	if err != nil {
		return nil, err
	}

	type actorStat struct {
		role     string
		count    int
		subjects map[uuid.UUID]bool
	}
	actors := make(map[uuid.UUID]*actorStat)
	for _, e := range accesses {
		if e.ActorID == nil {
			continue
		}
		stat := actors[*e.ActorID]
		if stat == nil {
			stat = &actorStat{role: e.ActorRole, subjects: make(map[uuid.UUID]bool)}
			actors[*e.ActorID] = stat
		}
		stat.count++
		if e.SubjectID != nil && !e.IsSelfAccess() {
			stat.subjects[*e.SubjectID] = true
		}
	}

	rpt := &MinimumNecessaryReport{WindowStart: window.Start, WindowEnd: window.End}
	if len(actors) == 0 {
		return rpt, nil
	}

	total := 0
	for _, stat := range actors {
		total += stat.count
	}
	rpt.MeanAccessCount = float64(total) / float64(len(actors))
	rpt.Threshold = 2 * rpt.MeanAccessCount

	for id, stat := range actors {
		if float64(stat.count) > rpt.Threshold {
			rpt.HighVolume = append(rpt.HighVolume, ActorAccessRow{
				ActorID:  id,
				Role:     stat.role,
				Count:    stat.count,
				Subjects: len(stat.subjects),
			})
		}
		if stat.role != "provider" {
			continue
		}
		caseload, err := g.directory.Caseload(ctx, id)
		if err != nil {
			return nil, err
		}
		assigned := make(map[uuid.UUID]bool, len(caseload))
		for _, p := range caseload {
			assigned[p] = true
		}
		var outside []uuid.UUID
		for subject := range stat.subjects {
			if !assigned[subject] {
				outside = append(outside, subject)
			}
		}
		if len(outside) > 0 {
			rpt.OutsideCaseload = append(rpt.OutsideCaseload, CaseloadExcursus{
				ProviderID: id,
				Subjects:   outside,
			})
		}
	}
	sortRowsByCountDesc(rpt.HighVolume)
	return rpt, nil
}

// DataSharingReport counts outbound access kinds (share, export, print).
type DataSharingReport struct {
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Shares      int            `json:"shares"`
	Exports     int            `json:"exports"`
	Prints      int            `json:"prints"`
	ByRole      map[string]int `json:"by_role"`
}

func (g *Generator) DataSharing(ctx context.Context, window audit.TimeRange) (*DataSharingReport, error) {
	accesses, err := g.access.Query(ctx, audit.AccessFilter{
		Kinds: []audit.AccessKind{audit.AccessShare, audit.AccessExport, audit.AccessPrint},
		Range: window,
		Limit: generatorPageSize,
	})
	if err != nil {
		return nil, err
	}

	rpt := &DataSharingReport{
		WindowStart: window.Start,
		WindowEnd:   window.End,
		ByRole:      make(map[string]int),
	}
	for _, e := range accesses {
		switch e.Kind {
		case audit.AccessShare:
			rpt.Shares++
		case audit.AccessExport:
			rpt.Exports++
		case audit.AccessPrint:
			rpt.Prints++
		}
		rpt.ByRole[e.ActorRole]++
	}
	return rpt, nil
}

// ActivitySummary aggregates the general activity trail.
type ActivitySummary struct {
	WindowStart     time.Time      `json:"window_start"`
	WindowEnd       time.Time      `json:"window_end"`
	TotalActivities int            `json:"total_activities"`
	ByKind          map[string]int `json:"by_kind"`
	ByResourceType  map[string]int `json:"by_resource_type"`
	Logins          int            `json:"logins"`
	FailedLogins    int            `json:"failed_logins"`
}

func (g *Generator) Activity(ctx context.Context, window audit.TimeRange) (*ActivitySummary, error) {
	summary := &ActivitySummary{
		WindowStart:    window.Start,
		WindowEnd:      window.End,
		ByKind:         make(map[string]int),
		ByResourceType: make(map[string]int),
	}
	for offset := 0; ; offset += generatorPageSize {
		page, err := g.activity.Query(ctx, audit.ActivityFilter{
			Range:  window,
			Limit:  generatorPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			summary.TotalActivities++
			summary.ByKind[string(e.Kind)]++
			summary.ByResourceType[e.ResourceType]++
			switch e.Kind {
			case audit.ActivityLogin:
				summary.Logins++
			case audit.ActivityLoginFailed:
				summary.FailedLogins++
			}
		}
		if len(page) < generatorPageSize {
			break
		}
	}
	return summary, nil
}

// UserActivityReport is the per-actor slice of the trails.
type UserActivityReport struct {
	ActorID     uuid.UUID        `json:"actor_id"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Activities  int              `json:"activities"`
	ByKind      map[string]int   `json:"by_kind"`
	Accesses    int              `json:"accesses"`
	Subjects    int              `json:"distinct_subjects"`
	Alerts      []*alertRowShort `json:"alerts"`
}

type alertRowShort struct {
	ID       uuid.UUID `json:"id"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Resolved bool      `json:"resolved"`
}

func (g *Generator) UserActivity(ctx context.Context, actor uuid.UUID, window audit.TimeRange) (*UserActivityReport, error) {
	rpt := &UserActivityReport{
		ActorID:     actor,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		ByKind:      make(map[string]int),
	}

	activities, err := g.activity.Query(ctx, audit.ActivityFilter{
		ActorID: &actor, Range: window, Limit: generatorPageSize,
	})
	if err != nil {
		return nil, err
	}
	rpt.Activities = len(activities)
	for _, e := range activities {
		rpt.ByKind[string(e.Kind)]++
	}

	accesses, err := g.access.Query(ctx, audit.AccessFilter{
		ActorID: &actor, Range: window, Limit: generatorPageSize,
	})
	if err != nil {
		return nil, err
	}
	rpt.Accesses = len(accesses)
	subjects := make(map[uuid.UUID]bool)
	for _, e := range accesses {
		if e.SubjectID != nil {
			subjects[*e.SubjectID] = true
		}
	}
	rpt.Subjects = len(subjects)

	alerts, err := g.security.Query(ctx, audit.SecurityFilter{
		ActorID: &actor, Range: window, Limit: generatorPageSize,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range alerts {
		rpt.Alerts = append(rpt.Alerts, &alertRowShort{
			ID:       e.ID,
			Kind:     string(e.Kind),
			Severity: string(e.Severity),
			Resolved: e.Resolved,
		})
	}
	return rpt, nil
}

// DashboardMetrics compares the current periods against the preceding ones.
// Deltas follow (current - previous) / previous, with 0 when previous is 0.
type DashboardMetrics struct {
	GeneratedAt time.Time `json:"generated_at"`

	AccessesToday     int64   `json:"accesses_today"`
	AccessesYesterday int64   `json:"accesses_yesterday"`
	AccessesDayDelta  float64 `json:"accesses_day_delta"`

	Accesses7d      int64   `json:"accesses_7d"`
	Accesses30d     int64   `json:"accesses_30d"`
	AccessesWkDelta float64 `json:"accesses_week_delta"`

	IncidentsToday     int64   `json:"incidents_today"`
	IncidentsYesterday int64   `json:"incidents_yesterday"`
	IncidentsDayDelta  float64 `json:"incidents_day_delta"`

	OpenIncidents int64 `json:"open_incidents"`
	MissingReason int64 `json:"missing_reason_today"`
}

func (g *Generator) Dashboard(ctx context.Context, now time.Time) (*DashboardMetrics, error) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today := audit.TimeRange{Start: midnight, End: now}
	yesterday := audit.TimeRange{Start: midnight.AddDate(0, 0, -1), End: midnight}
	week := audit.TimeRange{Start: now.AddDate(0, 0, -7), End: now}
	month := audit.TimeRange{Start: now.AddDate(0, 0, -30), End: now}

	m := &DashboardMetrics{GeneratedAt: now}
	var err error

	if m.AccessesToday, err = g.access.Count(ctx, audit.AccessFilter{Range: today}); err != nil {
		return nil, err
	}
	if m.AccessesYesterday, err = g.access.Count(ctx, audit.AccessFilter{Range: yesterday}); err != nil {
		return nil, err
	}
	if m.Accesses7d, err = g.access.Count(ctx, audit.AccessFilter{Range: week}); err != nil {
		return nil, err
	}
	if m.Accesses30d, err = g.access.Count(ctx, audit.AccessFilter{Range: month}); err != nil {
		return nil, err
	}
	if m.IncidentsToday, err = g.security.Count(ctx, audit.SecurityFilter{Range: today}); err != nil {
		return nil, err
	}
	if m.IncidentsYesterday, err = g.security.Count(ctx, audit.SecurityFilter{Range: yesterday}); err != nil {
		return nil, err
	}
	unresolved := false
	if m.OpenIncidents, err = g.security.Count(ctx, audit.SecurityFilter{Resolved: &unresolved}); err != nil {
		return nil, err
	}
	missing := true
	if m.MissingReason, err = g.access.Count(ctx, audit.AccessFilter{Range: today, MissingReason: &missing}); err != nil {
		return nil, err
	}

	m.AccessesDayDelta = delta(m.AccessesToday, m.AccessesYesterday)
	m.AccessesWkDelta = delta(m.Accesses7d, m.Accesses30d)
	m.IncidentsDayDelta = delta(m.IncidentsToday, m.IncidentsYesterday)
	return m, nil
}

// delta is (current - previous) / previous, defined as 0 when previous is 0.
func delta(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	return float64(current-previous) / float64(previous)
}

func (g *Generator) allAccesses(ctx context.Context, window audit.TimeRange) ([]*audit.AccessEvent, error) {
	var all []*audit.AccessEvent
	for offset := 0; ; offset += generatorPageSize {
		page, err := g.access.Query(ctx, audit.AccessFilter{
			Range:  window,
			Limit:  generatorPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < generatorPageSize {
			return all, nil
		}
	}
}

func (g *Generator) allSecurity(ctx context.Context, window audit.TimeRange) ([]*audit.SecurityEvent, error) {
	var all []*audit.SecurityEvent
	for offset := 0; ; offset += generatorPageSize {
		page, err := g.security.Query(ctx, audit.SecurityFilter{
			Range:  window,
			Limit:  generatorPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < generatorPageSize {
			return all, nil
		}
	}
}

func sortRowsByCountDesc(rows []ActorAccessRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
}
