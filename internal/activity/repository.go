package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort defines persistence operations for activities.
type RepositoryPort interface {
	Insert(ctx context.Context, a *Activity) error
	Get(ctx context.Context, id int64) (Activity, error)
	GetByCode(ctx context.Context, code string) (Activity, error)
	List(ctx context.Context, filter ListFilter, page, perPage int) ([]Activity, int, error)
	AddActual(ctx context.Context, id int64, amount float64) (Activity, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (Activity, error)
}

// ListFilter narrows List results.
type ListFilter struct {
	Status *Status
	Search string
}

// Repository implements RepositoryPort using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activityColumns = `id, code, title, objective, currency, estimate_usd, actual_usd, status, created_by, created_at, updated_at`

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	err := row.Scan(
		&a.ID,
		&a.Code,
		&a.Title,
		&a.Objective,
		&a.Currency,
		&a.EstimateUSD,
		&a.ActualUSD,
		&a.Status,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Activity{}, ErrNotFound
		}
		return Activity{}, err
	}
	return a, nil
}

// Insert stores a new activity and fills in its generated id.
func (r *Repository) Insert(ctx context.Context, a *Activity) error {
	const q = `
INSERT INTO activities (code, title, objective, currency, estimate_usd, actual_usd, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING id`
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	err := r.pool.QueryRow(ctx, q,
		a.Code, a.Title, a.Objective, a.Currency,
		a.EstimateUSD, a.ActualUSD, a.Status, a.CreatedBy, now,
	).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

// Get fetches one activity by id.
func (r *Repository) Get(ctx context.Context, id int64) (Activity, error) {
	q := fmt.Sprintf(`SELECT %s FROM activities WHERE id = $1`, activityColumns)
	return scanActivity(r.pool.QueryRow(ctx, q, id))
}

// GetByCode fetches one activity by its unique code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Activity, error) {
	q := fmt.Sprintf(`SELECT %s FROM activities WHERE code = $1`, activityColumns)
	return scanActivity(r.pool.QueryRow(ctx, q, code))
}

// List returns a page of activities plus the filtered total.
func (r *Repository) List(ctx context.Context, filter ListFilter, page, perPage int) ([]Activity, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := strconv.Itoa(len(args))
		clauses = append(clauses, "(code ILIKE $"+n+" OR title ILIKE $"+n+")")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activities"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	q := fmt.Sprintf(
		`SELECT %s FROM activities%s ORDER BY code ASC LIMIT $%d OFFSET $%d`,
		activityColumns, where, len(args)-1, len(args),
	)
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, a)
	}
	return list, total, rows.Err()
}

// AddActual increments the running actuals and returns the updated row.
func (r *Repository) AddActual(ctx context.Context, id int64, amount float64) (Activity, error) {
	q := fmt.Sprintf(`
UPDATE activities
SET actual_usd = actual_usd + $2, updated_at = $3
WHERE id = $1
RETURNING %s`, activityColumns)
	return scanActivity(r.pool.QueryRow(ctx, q, id, amount, time.Now().UTC()))
}

// UpdateStatus sets the lifecycle status and returns the updated row.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) (Activity, error) {
	q := fmt.Sprintf(`
UPDATE activities
SET status = $2, updated_at = $3
WHERE id = $1
RETURNING %s`, activityColumns)
	return scanActivity(r.pool.QueryRow(ctx, q, id, status, time.Now().UTC()))
}

var _ RepositoryPort = (*Repository)(nil)
