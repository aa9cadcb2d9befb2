package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// SecurityEventRepository persists security events. The resolution update is
// a single atomic statement so concurrent resolves cannot interleave
// resolver and notes from different callers.
type SecurityEventRepository struct {
	db *pgxpool.Pool
}

func NewSecurityEventRepository(db *pgxpool.Pool) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

func (r *SecurityEventRepository) Insert(ctx context.Context, event *audit.SecurityEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal security metadata").WithCause(err)
	}

	query := `
		INSERT INTO security_events
			(id, actor_id, kind, description, severity, client_ip, user_agent,
			 ts, metadata, resolved, resolved_by, resolved_at, resolution_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		event.ID, event.ActorID, event.Kind, event.Description, event.Severity,
		event.ClientIP, event.UserAgent, event.Timestamp, metadata,
		event.Resolved, event.ResolvedBy, event.ResolvedAt, event.ResolutionNotes)
	if err != nil {
		return errors.NewInternalError("failed to insert security event").WithCause(err)
	}
	return nil
}

func (r *SecurityEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.SecurityEvent, error) {
	row := r.db.QueryRow(ctx, securitySelect+` WHERE id = $1`, id)
	event, err := scanSecurity(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("security event")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load security event").WithCause(err)
	}
	return event, nil
}

func (r *SecurityEventRepository) Query(ctx context.Context, filter audit.SecurityFilter) ([]*audit.SecurityEvent, error) {
	where, args := securityWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	query := fmt.Sprintf("%s %s ORDER BY ts DESC LIMIT %d OFFSET %d",
		securitySelect, where, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to query security events").WithCause(err)
	}
	defer rows.Close()

	var events []*audit.SecurityEvent
	for rows.Next() {
		event, err := scanSecurity(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan security event").WithCause(err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *SecurityEventRepository) Count(ctx context.Context, filter audit.SecurityFilter) (int64, error) {
	where, args := securityWhere(filter)
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM security_events "+where, args...).Scan(&count)
	if err != nil {
		return 0, errors.NewInternalError("failed to count security events").WithCause(err)
	}
	return count, nil
}

// Resolve applies the resolution in one statement. Resolving an already
// resolved event only overwrites the notes, keeping the first resolver and
// timestamp; a missing id surfaces as NotFound.
func (r *SecurityEventRepository) Resolve(ctx context.Context, id uuid.UUID, resolver uuid.UUID, notes string) (*audit.SecurityEvent, error) {
	query := `
		UPDATE security_events
		SET resolved = TRUE,
		    resolved_by = COALESCE(resolved_by, $2),
		    resolved_at = COALESCE(resolved_at, $3),
		    resolution_notes = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, resolver, time.Now().UTC(), notes)
	if err != nil {
		return nil, errors.NewInternalError("failed to resolve security event").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.NewNotFoundError("security event")
	}
	return r.GetByID(ctx, id)
}

const securitySelect = `
	SELECT id, actor_id, kind, description, severity, client_ip, user_agent,
	       ts, metadata, resolved, resolved_by, resolved_at, resolution_notes
	FROM security_events`

func securityWhere(filter audit.SecurityFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ActorID != nil {
		conds = append(conds, "actor_id = "+arg(*filter.ActorID))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		conds = append(conds, "kind = ANY("+arg(kinds)+")")
	}
	if filter.MinSeverity != "" {
		// Severity ordering is encoded in the query to keep index usage simple.
		switch filter.MinSeverity {
		case audit.SeverityCritical:
			conds = append(conds, "severity = 'critical'")
		case audit.SeverityHigh:
			conds = append(conds, "severity IN ('high', 'critical')")
		case audit.SeverityMedium:
			conds = append(conds, "severity IN ('medium', 'high', 'critical')")
		}
	}
	if !filter.Range.Start.IsZero() {
		conds = append(conds, "ts >= "+arg(filter.Range.Start))
	}
	if !filter.Range.End.IsZero() {
		conds = append(conds, "ts < "+arg(filter.Range.End))
	}
	if filter.ClientIP != "" {
		conds = append(conds, "client_ip = "+arg(filter.ClientIP))
	}
	if filter.Search != "" {
		conds = append(conds, "description ILIKE "+arg("%"+filter.Search+"%"))
	}
	if filter.Resolved != nil {
		conds = append(conds, "resolved = "+arg(*filter.Resolved))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanSecurity(row rowScanner) (*audit.SecurityEvent, error) {
	var (
		event    audit.SecurityEvent
		metadata []byte
	)
	err := row.Scan(&event.ID, &event.ActorID, &event.Kind, &event.Description,
		&event.Severity, &event.ClientIP, &event.UserAgent, &event.Timestamp,
		&metadata, &event.Resolved, &event.ResolvedBy, &event.ResolvedAt,
		&event.ResolutionNotes)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, err
		}
	}
	return &event, nil
}
