package notify

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/atlas-grants/atlas-grants/internal/approval"
	"github.com/atlas-grants/atlas-grants/internal/users"
	"github.com/atlas-grants/atlas-grants/jobs"
)

// EmailEnqueuer submits email jobs to the queue.
type EmailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// Directory resolves recipient email addresses.
type Directory interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// Service stores in-app notifications and fans the same payload out as
// email jobs. It satisfies the approval engine's notifier port.
type Service struct {
	repo      RepositoryPort
	directory Directory
	enqueuer  EmailEnqueuer
	logger    *slog.Logger
}

// NewService constructs the notify service.
func NewService(repo RepositoryPort, directory Directory, enqueuer EmailEnqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, directory: directory, enqueuer: enqueuer, logger: logger}
}

// Send persists the batch and enqueues one email per recipient. The in-app
// write is authoritative; a failed email enqueue is logged and skipped.
func (s *Service) Send(ctx context.Context, notes []approval.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	records := make([]Notification, 0, len(notes))
	for _, n := range notes {
		records = append(records, Notification{
			UserID:   n.UserID,
			Category: n.Category,
			Title:    n.Title,
			Body:     n.Body,
			Link:     n.Link,
		})
	}
	if err := s.repo.InsertBatch(ctx, records); err != nil {
		return err
	}

	if s.enqueuer == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, n := range notes {
		g.Go(func() error {
			recipient, err := s.directory.Get(gctx, n.UserID)
			if err != nil {
				s.logger.Warn("resolve notification recipient",
					slog.Int64("user_id", n.UserID), slog.Any("error", err))
				return nil
			}
			body := n.Body
			if n.Link != "" {
				body += "\n\n" + n.Link
			}
			err = s.enqueuer.EnqueueSendEmail(gctx, jobs.SendEmailPayload{
				To:      recipient.Email,
				Subject: n.Title,
				Body:    body,
			})
			if err != nil {
				s.logger.Warn("enqueue notification email",
					slog.Int64("user_id", n.UserID), slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}

// ListForUser returns the user's notifications, optionally unread only.
func (s *Service) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly, limit)
}

// CountUnread returns the unread badge count.
func (s *Service) CountUnread(ctx context.Context, userID int64) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead marks one notification as read.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead marks everything as read.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) error {
	return s.repo.MarkAllRead(ctx, userID)
}

var _ approval.Notifier = (*Service)(nil)
