package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/errors"
	"github.com/caretrail/audit-backend/internal/domain/report"
)

// In-memory repositories backing unit tests and standalone mode. They apply
// the same filter semantics as the Postgres implementations and hand out
// copies so stored events stay append-only.

type MemoryActivityRepository struct {
	mu     sync.RWMutex
	events []*audit.ActivityEvent
}

func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{}
}

func (r *MemoryActivityRepository) Insert(_ context.Context, event *audit.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *event
	c.Metadata = event.Metadata.Clone()
	r.events = append(r.events, &c)
	return nil
}

func (r *MemoryActivityRepository) GetByID(_ context.Context, id uuid.UUID) (*audit.ActivityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.events {
		if e.ID == id {
			c := *e
			c.Metadata = e.Metadata.Clone()
			return &c, nil
		}
	}
	return nil, errors.NewNotFoundError("activity event")
}

func (r *MemoryActivityRepository) Query(_ context.Context, filter audit.ActivityFilter) ([]*audit.ActivityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*audit.ActivityEvent
	for _, e := range r.events {
		if matchActivity(e, filter) {
			c := *e
			c.Metadata = e.Metadata.Clone()
			matched = append(matched, &c)
		}
	}
	sortByTimestampDesc(matched, func(e *audit.ActivityEvent) time.Time { return e.Timestamp })
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (r *MemoryActivityRepository) Count(_ context.Context, filter audit.ActivityFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, e := range r.events {
		if matchActivity(e, filter) {
			n++
		}
	}
	return n, nil
}

func matchActivity(e *audit.ActivityEvent, f audit.ActivityFilter) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsActivityKind(f.Kinds, e.Kind) {
		return false
	}
	if !f.Range.Contains(e.Timestamp) {
		return false
	}
	if f.ClientIP != "" && e.ClientIP != f.ClientIP {
		return false
	}
	if f.ActorRole != "" && e.ActorRole != f.ActorRole {
		return false
	}
	if f.Search != "" && !containsFold(e.Description, f.Search) {
		return false
	}
	return true
}

type MemoryAccessRepository struct {
	mu     sync.RWMutex
	events []*audit.AccessEvent
}

func NewMemoryAccessRepository() *MemoryAccessRepository {
	return &MemoryAccessRepository{}
}

func (r *MemoryAccessRepository) Insert(_ context.Context, event *audit.AccessEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *event
	c.Metadata = event.Metadata.Clone()
	r.events = append(r.events, &c)
	return nil
}

func (r *MemoryAccessRepository) GetByID(_ context.Context, id uuid.UUID) (*audit.AccessEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.events {
		if e.ID == id {
			c := *e
			c.Metadata = e.Metadata.Clone()
			return &c, nil
		}
	}
	return nil, errors.NewNotFoundError("access event")
}

func (r *MemoryAccessRepository) Query(_ context.Context, filter audit.AccessFilter) ([]*audit.AccessEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*audit.AccessEvent
	for _, e := range r.events {
		if matchAccess(e, filter) {
			c := *e
			c.Metadata = e.Metadata.Clone()
			matched = append(matched, &c)
		}
	}
	sortByTimestampDesc(matched, func(e *audit.AccessEvent) time.Time { return e.Timestamp })
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (r *MemoryAccessRepository) Count(_ context.Context, filter audit.AccessFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, e := range r.events {
		if matchAccess(e, filter) {
			n++
		}
	}
	return n, nil
}

func matchAccess(e *audit.AccessEvent, f audit.AccessFilter) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.SubjectID != nil && (e.SubjectID == nil || *e.SubjectID != *f.SubjectID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsAccessKind(f.Kinds, e.Kind) {
		return false
	}
	if !f.Range.Contains(e.Timestamp) {
		return false
	}
	if f.ClientIP != "" && e.ClientIP != f.ClientIP {
		return false
	}
	if f.ActorRole != "" && e.ActorRole != f.ActorRole {
		return false
	}
	if f.Search != "" &&
		!containsFold(e.Reason.String(), f.Search) &&
		!containsFold(e.RecordType, f.Search) {
		return false
	}
	if f.MissingReason != nil && e.Reason.IsMissing() != *f.MissingReason {
		return false
	}
	return true
}

type MemorySecurityEventRepository struct {
	mu     sync.RWMutex
	events []*audit.SecurityEvent
}

func NewMemorySecurityEventRepository() *MemorySecurityEventRepository {
	return &MemorySecurityEventRepository{}
}

func (r *MemorySecurityEventRepository) Insert(_ context.Context, event *audit.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *event
	c.Metadata = event.Metadata.Clone()
	r.events = append(r.events, &c)
	return nil
}

func (r *MemorySecurityEventRepository) GetByID(_ context.Context, id uuid.UUID) (*audit.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.findLocked(id); e != nil {
		c := *e
		c.Metadata = e.Metadata.Clone()
		return &c, nil
	}
	return nil, errors.NewNotFoundError("security event")
}

func (r *MemorySecurityEventRepository) Query(_ context.Context, filter audit.SecurityFilter) ([]*audit.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*audit.SecurityEvent
	for _, e := range r.events {
		if matchSecurity(e, filter) {
			c := *e
			c.Metadata = e.Metadata.Clone()
			matched = append(matched, &c)
		}
	}
	sortByTimestampDesc(matched, func(e *audit.SecurityEvent) time.Time { return e.Timestamp })
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (r *MemorySecurityEventRepository) Count(_ context.Context, filter audit.SecurityFilter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, e := range r.events {
		if matchSecurity(e, filter) {
			n++
		}
	}
	return n, nil
}

func (r *MemorySecurityEventRepository) Resolve(_ context.Context, id uuid.UUID, resolver uuid.UUID, notes string) (*audit.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.findLocked(id)
	if e == nil {
		return nil, errors.NewNotFoundError("security event")
	}
	e.Resolve(resolver, notes, time.Now())
	c := *e
	c.Metadata = e.Metadata.Clone()
	return &c, nil
}

func (r *MemorySecurityEventRepository) findLocked(id uuid.UUID) *audit.SecurityEvent {
	for _, e := range r.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func matchSecurity(e *audit.SecurityEvent, f audit.SecurityFilter) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsSecurityKind(f.Kinds, e.Kind) {
		return false
	}
	if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if !f.Range.Contains(e.Timestamp) {
		return false
	}
	if f.ClientIP != "" && e.ClientIP != f.ClientIP {
		return false
	}
	if f.Search != "" && !containsFold(e.Description, f.Search) {
		return false
	}
	if f.Resolved != nil && e.Resolved != *f.Resolved {
		return false
	}
	return true
}

type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*report.ComplianceReport
	exports map[uuid.UUID]*report.DataExport
}

func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{
		reports: make(map[uuid.UUID]*report.ComplianceReport),
		exports: make(map[uuid.UUID]*report.DataExport),
	}
}

func (r *MemoryReportRepository) InsertReport(_ context.Context, rep *report.ComplianceReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rep
	r.reports[rep.ID] = &c
	return nil
}

func (r *MemoryReportRepository) UpdateReport(_ context.Context, rep *report.ComplianceReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[rep.ID]; !ok {
		return errors.NewNotFoundError("compliance report")
	}
	c := *rep
	r.reports[rep.ID] = &c
	return nil
}

func (r *MemoryReportRepository) GetReport(_ context.Context, id uuid.UUID) (*report.ComplianceReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, errors.NewNotFoundError("compliance report")
	}
	c := *rep
	return &c, nil
}

func (r *MemoryReportRepository) FindReportByFingerprint(_ context.Context, fingerprint string) (*report.ComplianceReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *report.ComplianceReport
	for _, rep := range r.reports {
		if rep.ParamsHash != fingerprint || rep.Status == report.StatusFailed {
			continue
		}
		if found == nil || rep.CreatedAt.After(found.CreatedAt) {
			found = rep
		}
	}
	if found == nil {
		return nil, errors.NewNotFoundError("compliance report")
	}
	c := *found
	return &c, nil
}

func (r *MemoryReportRepository) ListStaleProcessing(_ context.Context, cutoff time.Time) ([]*report.ComplianceReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []*report.ComplianceReport
	for _, rep := range r.reports {
		if rep.Status == report.StatusProcessing && rep.UpdatedAt.Before(cutoff) {
			c := *rep
			stale = append(stale, &c)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	return stale, nil
}

func (r *MemoryReportRepository) InsertExport(_ context.Context, exp *report.DataExport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *exp
	r.exports[exp.ID] = &c
	return nil
}

func (r *MemoryReportRepository) UpdateExport(_ context.Context, exp *report.DataExport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exports[exp.ID]; !ok {
		return errors.NewNotFoundError("data export")
	}
	c := *exp
	r.exports[exp.ID] = &c
	return nil
}

func (r *MemoryReportRepository) GetExport(_ context.Context, id uuid.UUID) (*report.DataExport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.exports[id]
	if !ok {
		return nil, errors.NewNotFoundError("data export")
	}
	c := *exp
	return &c, nil
}

func containsActivityKind(kinds []audit.ActivityKind, k audit.ActivityKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsAccessKind(kinds []audit.AccessKind, k audit.AccessKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsSecurityKind(kinds []audit.SecurityEventKind, k audit.SecurityEventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func sortByTimestampDesc[T any](items []T, ts func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return ts(items[i]).After(ts(items[j]))
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
