package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretrail/audit-backend/internal/domain/audit"
	"github.com/caretrail/audit-backend/internal/domain/errors"
)

// AccessRepository persists the PHI access trail.
type AccessRepository struct {
	db *pgxpool.Pool
}

func NewAccessRepository(db *pgxpool.Pool) *AccessRepository {
	return &AccessRepository{db: db}
}

func (r *AccessRepository) Insert(ctx context.Context, event *audit.AccessEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal access metadata").WithCause(err)
	}

	query := `
		INSERT INTO access_events
			(id, actor_id, actor_role, subject_id, kind, reason, record_type,
			 record_id, client_ip, user_agent, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		event.ID, event.ActorID, event.ActorRole, event.SubjectID, event.Kind,
		event.Reason.String(), event.RecordType, event.RecordID,
		event.ClientIP, event.UserAgent, event.Timestamp, metadata)
	if err != nil {
		return errors.NewInternalError("failed to insert access event").WithCause(err)
	}
	return nil
}

func (r *AccessRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.AccessEvent, error) {
	row := r.db.QueryRow(ctx, accessSelect+` WHERE id = $1`, id)
	event, err := scanAccess(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("access event")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load access event").WithCause(err)
	}
	return event, nil
}

func (r *AccessRepository) Query(ctx context.Context, filter audit.AccessFilter) ([]*audit.AccessEvent, error) {
	where, args := accessWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	query := fmt.Sprintf("%s %s ORDER BY ts DESC LIMIT %d OFFSET %d",
		accessSelect, where, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to query access events").WithCause(err)
	}
	defer rows.Close()

	var events []*audit.AccessEvent
	for rows.Next() {
		event, err := scanAccess(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan access event").WithCause(err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *AccessRepository) Count(ctx context.Context, filter audit.AccessFilter) (int64, error) {
	where, args := accessWhere(filter)
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM access_events "+where, args...).Scan(&count)
	if err != nil {
		return 0, errors.NewInternalError("failed to count access events").WithCause(err)
	}
	return count, nil
}

const accessSelect = `
	SELECT id, actor_id, actor_role, subject_id, kind, reason, record_type,
	       record_id, client_ip, user_agent, ts, metadata
	FROM access_events`

func accessWhere(filter audit.AccessFilter) (string, []interface{}) {
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
	if filter.SubjectID != nil {
		conds = append(conds, "subject_id = "+arg(*filter.SubjectID))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		conds = append(conds, "kind = ANY("+arg(kinds)+")")
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
	if filter.ActorRole != "" {
		conds = append(conds, "actor_role = "+arg(filter.ActorRole))
	}
	if filter.Search != "" {
		conds = append(conds, "(reason ILIKE "+arg("%"+filter.Search+"%")+" OR record_type ILIKE "+arg("%"+filter.Search+"%")+")")
	}
	if filter.MissingReason != nil {
		if *filter.MissingReason {
			conds = append(conds, "(reason = '' OR reason = "+arg(audit.ReasonSentinel)+")")
		} else {
			conds = append(conds, "reason <> '' AND reason <> "+arg(audit.ReasonSentinel))
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanAccess(row rowScanner) (*audit.AccessEvent, error) {
	var (
		event    audit.AccessEvent
		reason   string
		metadata []byte
	)
	err := row.Scan(&event.ID, &event.ActorID, &event.ActorRole, &event.SubjectID,
		&event.Kind, &reason, &event.RecordType, &event.RecordID,
		&event.ClientIP, &event.UserAgent, &event.Timestamp, &metadata)
	if err != nil {
		return nil, err
	}
	event.Reason = audit.ReasonFromStored(reason)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, err
		}
	}
	return &event, nil
}
