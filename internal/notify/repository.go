package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort defines persistence for notifications.
type RepositoryPort interface {
	InsertBatch(ctx context.Context, notes []Notification) error
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) error
}

// Repository implements RepositoryPort using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertBatch stores a fan-out batch in one round trip.
func (r *Repository) InsertBatch(ctx context.Context, notes []Notification) error {
	if len(notes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
INSERT INTO notifications (user_id, category, title, body, link, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`
	now := time.Now().UTC()
	for _, n := range notes {
		batch.Queue(q, n.UserID, n.Category, n.Title, n.Body, n.Link, now)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range notes {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListForUser returns the newest notifications for one user.
func (r *Repository) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := `
SELECT id, user_id, category, title, body, COALESCE(link, ''), read_at, created_at
FROM notifications
WHERE user_id = $1`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Body, &n.Link, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// CountUnread returns the unread badge count.
func (r *Repository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID,
	).Scan(&count)
	return count, err
}

// MarkRead sets the read marker on one notification owned by the user.
func (r *Repository) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $2 AND user_id = $1`,
		userID, id, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead clears the unread set for the user.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`,
		userID, time.Now().UTC(),
	)
	return err
}

var _ RepositoryPort = (*Repository)(nil)
