package audit

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit trail written by the shared audit logger.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
	TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineColumns = `occurred_at, actor_id, COALESCE(actor_role, ''), action, entity, entity_id, before, after, COALESCE(ip, '')`

func buildWhere(filters TimelineFilters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= ?", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at <= ?", filters.To)
	}
	if actor := strings.TrimSpace(filters.Actor); actor != "" {
		if id, err := strconv.ParseInt(actor, 10, 64); err == nil {
			add("actor_id = ?", id)
		}
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("entity = ?", entity)
	}
	if entityID := strings.TrimSpace(filters.EntityID); entityID != "" {
		add("entity_id = ?", entityID)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("action = ?", action)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Timeline returns one page of audit rows, newest first.
func (r *PGRepository) Timeline(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := buildWhere(filters)
	args = append(args, limit, offset)
	q := "SELECT " + timelineColumns + " FROM audit_logs" + where +
		" ORDER BY occurred_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	return r.query(ctx, q, args)
}

// TimelineAll returns every matching row for export.
func (r *PGRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := buildWhere(filters)
	q := "SELECT " + timelineColumns + " FROM audit_logs" + where + " ORDER BY occurred_at DESC, id DESC"
	return r.query(ctx, q, args)
}

func (r *PGRepository) query(ctx context.Context, q string, args []any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.ActorID, &row.Role, &row.Action, &row.Entity, &row.EntityID, &row.Before, &row.After, &row.IP); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
