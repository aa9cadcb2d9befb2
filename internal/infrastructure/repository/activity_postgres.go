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

// ActivityRepository persists the general audit trail. Inserts only;
// records are never updated or deleted.
type ActivityRepository struct {
	db *pgxpool.Pool
}

func NewActivityRepository(db *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Insert(ctx context.Context, event *audit.ActivityEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal activity metadata").WithCause(err)
	}

	query := `
		INSERT INTO activity_events
			(id, actor_id, actor_role, kind, resource_type, resource_id,
			 description, client_ip, user_agent, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		event.ID, event.ActorID, event.ActorRole, event.Kind,
		event.ResourceType, event.ResourceID, event.Description,
		event.ClientIP, event.UserAgent, event.Timestamp, metadata)
	if err != nil {
		return errors.NewInternalError("failed to insert activity event").WithCause(err)
	}
	return nil
}

func (r *ActivityRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.ActivityEvent, error) {
	query := activitySelect + ` WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	event, err := scanActivity(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("activity event")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load activity event").WithCause(err)
	}
	return event, nil
}

func (r *ActivityRepository) Query(ctx context.Context, filter audit.ActivityFilter) ([]*audit.ActivityEvent, error) {
	where, args := activityWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	query := fmt.Sprintf("%s %s ORDER BY ts DESC LIMIT %d OFFSET %d",
		activitySelect, where, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("failed to query activity events").WithCause(err)
	}
	defer rows.Close()

	var events []*audit.ActivityEvent
	for rows.Next() {
		event, err := scanActivity(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan activity event").WithCause(err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *ActivityRepository) Count(ctx context.Context, filter audit.ActivityFilter) (int64, error) {
	where, args := activityWhere(filter)
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM activity_events "+where, args...).Scan(&count)
	if err != nil {
		return 0, errors.NewInternalError("failed to count activity events").WithCause(err)
	}
	return count, nil
}

const activitySelect = `
	SELECT id, actor_id, actor_role, kind, resource_type, resource_id,
	       description, client_ip, user_agent, ts, metadata
	FROM activity_events`

func activityWhere(filter audit.ActivityFilter) (string, []interface{}) {
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
		conds = append(conds, "description ILIKE "+arg("%"+filter.Search+"%"))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (*audit.ActivityEvent, error) {
	var (
		event    audit.ActivityEvent
		metadata []byte
	)
	err := row.Scan(&event.ID, &event.ActorID, &event.ActorRole, &event.Kind,
		&event.ResourceType, &event.ResourceID, &event.Description,
		&event.ClientIP, &event.UserAgent, &event.Timestamp, &metadata)
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
