package approval

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-grants/atlas-grants/internal/platform/db"
	"github.com/atlas-grants/atlas-grants/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const approvalColumns = `id, target_type, target_id, state, submitted_by, submitted_at,
finance_approved_by, finance_approved_at, finance_comment,
committee_approved_by, committee_approved_at, committee_comment,
rejected_by, rejected_at, rejection_reason, version`

func scanApproval(row pgx.Row) (Approval, error) {
	var a Approval
	var targetType, state string
	if err := row.Scan(&a.ID, &targetType, &a.TargetID, &state, &a.SubmittedBy, &a.SubmittedAt,
		&a.FinanceApprovedBy, &a.FinanceApprovedAt, &a.FinanceComment,
		&a.CommitteeApprovedBy, &a.CommitteeApprovedAt, &a.CommitteeComment,
		&a.RejectedBy, &a.RejectedAt, &a.RejectionReason, &a.Version); err != nil {
		return Approval{}, err
	}
	a.TargetType = TargetType(targetType)
	a.State = State(state)
	return a, nil
}

// Get returns one approval with its full history.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Approval, error) {
	a, err := scanApproval(r.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, ErrNotFound
		}
		return Approval{}, err
	}
	a.History, err = loadEvents(ctx, r.pool, id)
	if err != nil {
		return Approval{}, err
	}
	return a, nil
}

// List returns approvals matching the filter, newest first, without history.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE 1=1`
	args := []any{}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, s := range filter.States {
			states = append(states, string(s))
		}
		args = append(args, states)
		query += ` AND state = ANY($` + itoa(len(args)) + `)`
	}
	if filter.TargetType != nil {
		args = append(args, string(*filter.TargetType))
		query += ` AND target_type = $` + itoa(len(args))
	}
	if filter.TargetID != nil {
		args = append(args, *filter.TargetID)
		query += ` AND target_id = $` + itoa(len(args))
	}
	if filter.SubmittedBy != nil {
		args = append(args, *filter.SubmittedBy)
		query += ` AND submitted_by = $` + itoa(len(args))
	}
	query += ` ORDER BY submitted_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// GetTarget reads the activity referenced by the change.
func (r *Repository) GetTarget(ctx context.Context, targetType TargetType, targetID int64) (Target, error) {
	var t Target
	err := r.pool.QueryRow(ctx, `SELECT id, code, title, estimate_usd FROM activities WHERE id=$1`, targetID).
		Scan(&t.ID, &t.Code, &t.Title, &t.Estimate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Target{}, ErrNotFound
		}
		return Target{}, err
	}
	return t, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadEvents(ctx context.Context, q queryer, id uuid.UUID) ([]Event, error) {
	rows, err := q.Query(ctx, `SELECT seq, state, actor, comment, old_value, new_value, at
FROM approval_events WHERE approval_id=$1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var evt Event
		var state string
		if err := rows.Scan(&evt.Seq, &state, &evt.Actor, &evt.Comment, &evt.OldValue, &evt.NewValue, &evt.At); err != nil {
			return nil, err
		}
		evt.State = State(state)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Insert stores a new approval header and its initial history entries.
func (t *txRepo) Insert(ctx context.Context, a Approval) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO approvals (`+approvalColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, string(a.TargetType), a.TargetID, string(a.State), a.SubmittedBy, a.SubmittedAt,
		a.FinanceApprovedBy, a.FinanceApprovedAt, a.FinanceComment,
		a.CommitteeApprovedBy, a.CommitteeApprovedAt, a.CommitteeComment,
		a.RejectedBy, a.RejectedAt, a.RejectionReason, a.Version)
	if err != nil {
		return err
	}
	return t.AppendEvents(ctx, a.ID, a.History)
}

// Lock fetches the approval with its history under a row lock.
func (t *txRepo) Lock(ctx context.Context, id uuid.UUID) (Approval, error) {
	a, err := scanApproval(t.tx.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, ErrNotFound
		}
		return Approval{}, err
	}
	a.History, err = loadEvents(ctx, t.tx, id)
	if err != nil {
		return Approval{}, err
	}
	return a, nil
}

// AppendEvents inserts history entries. Entries are never updated or deleted.
func (t *txRepo) AppendEvents(ctx context.Context, approvalID uuid.UUID, events []Event) error {
	for _, evt := range events {
		_, err := t.tx.Exec(ctx, `INSERT INTO approval_events (approval_id, seq, state, actor, comment, old_value, new_value, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			approvalID, evt.Seq, string(evt.State), evt.Actor, evt.Comment, evt.OldValue, evt.NewValue, evt.At)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateHeader persists the mutated header fields guarded by the version
// check. A concurrent writer makes the check fail with ErrStaleState.
func (t *txRepo) UpdateHeader(ctx context.Context, a Approval, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE approvals SET state=$2,
finance_approved_by=$3, finance_approved_at=$4, finance_comment=$5,
committee_approved_by=$6, committee_approved_at=$7, committee_comment=$8,
rejected_by=$9, rejected_at=$10, rejection_reason=$11,
version = version + 1
WHERE id=$1 AND version=$12`,
		a.ID, string(a.State),
		a.FinanceApprovedBy, a.FinanceApprovedAt, a.FinanceComment,
		a.CommitteeApprovedBy, a.CommitteeApprovedAt, a.CommitteeComment,
		a.RejectedBy, a.RejectedAt, a.RejectionReason, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// SetTargetEstimate writes the estimate onto the referenced activity.
func (t *txRepo) SetTargetEstimate(ctx context.Context, targetType TargetType, targetID int64, value float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE activities SET estimate_usd=$2, updated_at=NOW() WHERE id=$1`, targetID, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAudit writes the audit entry inside the same transaction.
func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(t.tx).Record(ctx, log)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
