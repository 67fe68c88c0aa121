package settings

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-grants/atlas-grants/internal/shared"
)

// RepositoryPort defines persistence for threshold settings.
type RepositoryPort interface {
	Load(ctx context.Context) (ThresholdSettings, error)
	Save(ctx context.Context, s ThresholdSettings) error
}

// Repository implements RepositoryPort on PostgreSQL. The table holds a
// single row keyed by id 1.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load reads the current thresholds.
func (r *Repository) Load(ctx context.Context) (ThresholdSettings, error) {
	const q = `
SELECT usd_limit, percent_limit, updated_by, updated_at
FROM approval_settings
WHERE id = 1`
	var s ThresholdSettings
	err := r.pool.QueryRow(ctx, q).Scan(&s.USDLimit, &s.PercentLimit, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ThresholdSettings{}, shared.ErrNotFound
		}
		return ThresholdSettings{}, err
	}
	return s, nil
}

// Save upserts the thresholds row.
func (r *Repository) Save(ctx context.Context, s ThresholdSettings) error {
	const q = `
INSERT INTO approval_settings (id, usd_limit, percent_limit, updated_by, updated_at)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET usd_limit = EXCLUDED.usd_limit,
    percent_limit = EXCLUDED.percent_limit,
    updated_by = EXCLUDED.updated_by,
    updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, q, s.USDLimit, s.PercentLimit, s.UpdatedBy, time.Now().UTC())
	return err
}

var _ RepositoryPort = (*Repository)(nil)
