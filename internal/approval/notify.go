package approval

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/atlas-grants/atlas-grants/internal/users"
)

// Notification categories used for in-app filtering and email templates.
const (
	CategoryPendingFinance   = "approval.pending_finance"
	CategoryPendingCommittee = "approval.pending_committee"
	CategoryApproved         = "approval.approved"
	CategoryRejected         = "approval.rejected"
)

// Notification is one message for one recipient. Notifications are
// idempotent read markers; duplicate delivery on retry is acceptable.
type Notification struct {
	UserID   int64
	Category string
	Title    string
	Body     string
	Link     string
}

var usd = message.NewPrinter(language.English)

func fmtUSD(v float64) string {
	return usd.Sprintf("USD %.2f", v)
}

// dispatch hands notifications to the notifier. Delivery is best-effort:
// errors are logged and never surfaced to the transition's caller.
func (s *Service) dispatch(ctx context.Context, notes []Notification) {
	if s.notifier == nil || len(notes) == 0 {
		return
	}
	if err := s.notifier.Send(ctx, notes); err != nil {
		s.logger.Error("dispatch notifications", slog.Any("error", err))
	}
}

func (s *Service) link(a Approval) string {
	return s.baseURL + "/approvals/" + a.ID.String()
}

// notesForSubmit notifies finance reviewers of a new submission, or the
// committee when the submission auto-passed finance review. The submitter
// never receives their own pending notification.
func (s *Service) notesForSubmit(ctx context.Context, a Approval, target Target, auto bool, submitterID int64) []Notification {
	delta := ""
	if evt, ok := a.submittedEvent(); ok && evt.OldValue != nil && evt.NewValue != nil {
		delta = fmt.Sprintf(" (%s -> %s)", fmtUSD(*evt.OldValue), fmtUSD(*evt.NewValue))
	}

	if auto {
		recipients, err := s.directory.ListByRoles(ctx, users.RoleCommittee, users.RoleDirector)
		if err != nil {
			s.logger.Error("resolve committee recipients", slog.Any("error", err))
			return nil
		}
		return buildNotes(recipients, 0, Notification{
			Category: CategoryPendingCommittee,
			Title:    "Change awaiting committee review",
			Body:     fmt.Sprintf("%s %s: change%s auto-passed finance review.", target.Code, target.Title, delta),
			Link:     s.link(a),
		})
	}

	recipients, err := s.directory.ListByRoles(ctx, users.RoleFinance, users.RoleDirector)
	if err != nil {
		s.logger.Error("resolve finance recipients", slog.Any("error", err))
		return nil
	}
	return buildNotes(recipients, submitterID, Notification{
		Category: CategoryPendingFinance,
		Title:    "Change awaiting finance review",
		Body:     fmt.Sprintf("%s %s: change%s submitted for review.", target.Code, target.Title, delta),
		Link:     s.link(a),
	})
}

// notesForApproveStage handles the outcome of a finance-approve call: either
// the record advanced to committee review, or (director shortcut) it is final.
func (s *Service) notesForApproveStage(ctx context.Context, a Approval, actor Actor) []Notification {
	if a.State == StateCommitteeApproved {
		return s.notesForFinal(ctx, a)
	}
	recipients, err := s.directory.ListByRoles(ctx, users.RoleCommittee, users.RoleDirector)
	if err != nil {
		s.logger.Error("resolve committee recipients", slog.Any("error", err))
		return nil
	}
	return buildNotes(recipients, actor.ID, Notification{
		Category: CategoryPendingCommittee,
		Title:    "Change awaiting committee review",
		Body:     "A change passed finance review and awaits committee approval.",
		Link:     s.link(a),
	})
}

// notesForFinal notifies the original submitter that the record reached a
// terminal state. Rejection bodies carry the reason verbatim.
func (s *Service) notesForFinal(ctx context.Context, a Approval) []Notification {
	note := Notification{
		UserID: a.SubmittedBy,
		Link:   s.link(a),
	}
	switch a.State {
	case StateCommitteeApproved:
		note.Category = CategoryApproved
		note.Title = "Your change was approved"
		note.Body = "Your proposed change passed both review stages and is now final."
	case StateRejected:
		note.Category = CategoryRejected
		note.Title = "Your change was rejected"
		note.Body = fmt.Sprintf("Your proposed change was rejected: %s", a.RejectionReason)
	default:
		return nil
	}
	return []Notification{note}
}

func buildNotes(recipients []users.User, exclude int64, template Notification) []Notification {
	notes := make([]Notification, 0, len(recipients))
	for _, u := range recipients {
		if exclude != 0 && u.ID == exclude {
			continue
		}
		n := template
		n.UserID = u.ID
		notes = append(notes, n)
	}
	return notes
}
