package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/atlas-grants/atlas-grants/internal/jobs"
)

// ApprovalReminderJob sweeps review stages for records nobody has acted on
// and writes a reminder notification for each waiting reviewer.
type ApprovalReminderJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	BaseURL string
	clock   func() time.Time
}

// NewApprovalReminderJob initialises the reminder handler.
func NewApprovalReminderJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, baseURL string) *ApprovalReminderJob {
	return &ApprovalReminderJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		BaseURL: baseURL,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type pendingApproval struct {
	ID          string
	State       string
	TargetCode  string
	TargetTitle string
	WaitedFor   time.Duration
}

// Handle executes the reminder sweep.
func (j *ApprovalReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("approval reminder: handler not configured")
	}
	var payload ApprovalReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThanHours <= 0 {
		payload.OlderThanHours = 48
	}

	tracker := j.metrics().Track(TaskTypeApprovalReminder)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().Add(-time.Duration(payload.OlderThanHours) * time.Hour)
	logger := j.logger().With(slog.Int("older_than_hours", payload.OlderThanHours))
	logger.Info("starting approval reminder sweep")

	pending, err := j.scan(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("sweep failed", slog.Any("error", err))
		return resultErr
	}

	reminded := 0
	for _, p := range pending {
		n, err := j.remind(ctx, p)
		if err != nil {
			logger.Error("write reminder", slog.String("approval_id", p.ID), slog.Any("error", err))
			continue
		}
		reminded += n
	}

	logger.Info("completed approval reminder sweep",
		slog.Int("pending", len(pending)),
		slog.Int("reminders", reminded))
	return resultErr
}

// scan finds approvals stuck in a review stage since before the cutoff.
func (j *ApprovalReminderJob) scan(ctx context.Context, cutoff time.Time) ([]pendingApproval, error) {
	const q = `
SELECT a.id::text, a.state, act.code, act.title,
       COALESCE(a.finance_approved_at, a.submitted_at)
FROM approvals a
JOIN activities act ON act.id = a.target_id
WHERE a.state IN ('SUBMITTED', 'FINANCE_APPROVED')
  AND COALESCE(a.finance_approved_at, a.submitted_at) < $1
ORDER BY a.submitted_at ASC`
	rows, err := j.Pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := j.now()
	var out []pendingApproval
	for rows.Next() {
		var p pendingApproval
		var since time.Time
		if err := rows.Scan(&p.ID, &p.State, &p.TargetCode, &p.TargetTitle, &since); err != nil {
			return nil, err
		}
		p.WaitedFor = now.Sub(since)
		out = append(out, p)
	}
	return out, rows.Err()
}

// remind inserts one in-app notification per reviewer of the waiting stage.
// Duplicate reminders within a day are suppressed per user and approval.
func (j *ApprovalReminderJob) remind(ctx context.Context, p pendingApproval) (int, error) {
	role := "FINANCE"
	category := "approval.pending_finance"
	if p.State == "FINANCE_APPROVED" {
		role = "COMMITTEE"
		category = "approval.pending_committee"
	}

	title := "Reminder: change awaiting review"
	body := fmt.Sprintf("%s %s has been waiting for review for %d hours.",
		p.TargetCode, p.TargetTitle, int(p.WaitedFor.Hours()))
	link := j.BaseURL + "/approvals/" + p.ID

	const q = `
INSERT INTO notifications (user_id, category, title, body, link, created_at)
SELECT u.id, $1, $2, $3, $4, $5
FROM users u
WHERE u.is_active AND u.role IN ($6, 'DIRECTOR')
  AND NOT EXISTS (
    SELECT 1 FROM notifications n
    WHERE n.user_id = u.id AND n.link = $4 AND n.created_at > $7
  )`
	now := j.now()
	tag, err := j.Pool.Exec(ctx, q, category, title, body, link, now, role, now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (j *ApprovalReminderJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ApprovalReminderJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ApprovalReminderJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
