package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-grants/atlas-grants/internal/shared"
	"github.com/atlas-grants/atlas-grants/internal/users"
)

// Target is the read view of the object under change, used for messages and
// for writing the estimate back on revert.
type Target struct {
	ID       int64
	Code     string
	Title    string
	Estimate float64
}

// ListFilter narrows List results.
type ListFilter struct {
	States      []State
	TargetType  *TargetType
	TargetID    *int64
	SubmittedBy *int64
}

// RepositoryPort describes storage operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Approval, error)
	List(ctx context.Context, filter ListFilter) ([]Approval, error)
	GetTarget(ctx context.Context, targetType TargetType, targetID int64) (Target, error)
}

// TxRepository exposes the transactional unit of one state transition. The
// audit write joins the same transaction so a failed audit aborts the
// transition.
type TxRepository interface {
	Insert(ctx context.Context, a Approval) error
	Lock(ctx context.Context, id uuid.UUID) (Approval, error)
	AppendEvents(ctx context.Context, approvalID uuid.UUID, events []Event) error
	UpdateHeader(ctx context.Context, a Approval, expectedVersion int64) error
	SetTargetEstimate(ctx context.Context, targetType TargetType, targetID int64, value float64) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// UserDirectory resolves actors and notification recipients.
type UserDirectory interface {
	Get(ctx context.Context, id int64) (users.User, error)
	ListByRoles(ctx context.Context, roles ...users.Role) ([]users.User, error)
}

// Notifier delivers notifications over the in-app and email channels.
// Failures must never propagate into the transition's success path.
type Notifier interface {
	Send(ctx context.Context, notes []Notification) error
}

// SettingsPort reads the process-wide threshold configuration.
type SettingsPort interface {
	Thresholds(ctx context.Context) (Thresholds, error)
}

// Service owns the approval workflow.
type Service struct {
	repo      RepositoryPort
	directory UserDirectory
	notifier  Notifier
	settings  SettingsPort
	logger    *slog.Logger
	baseURL   string
}

// NewService constructs the approval service.
func NewService(repo RepositoryPort, directory UserDirectory, notifier Notifier, settings SettingsPort, logger *slog.Logger, baseURL string) *Service {
	return &Service{repo: repo, directory: directory, notifier: notifier, settings: settings, logger: logger, baseURL: baseURL}
}

// SubmitInput describes a proposed change.
type SubmitInput struct {
	TargetType TargetType
	TargetID   int64
	OldValue   *float64
	NewValue   *float64
	Comment    string
}

// Submit creates an approval record for a proposed change. Estimate changes
// below the configured thresholds skip finance review: the record is created
// already finance-approved with a system history entry. The proposed value is
// applied to the target optimistically; a later rejection reverts it.
func (s *Service) Submit(ctx context.Context, input SubmitInput, actor Actor) (Approval, error) {
	if !Allowed(ActionSubmit, actor.Role) {
		return Approval{}, fmt.Errorf("%w: role %s may not submit", ErrUnauthorized, actor.Role)
	}
	if !input.TargetType.Valid() {
		return Approval{}, fmt.Errorf("%w: unknown target type %q", ErrValidation, input.TargetType)
	}
	hasDelta := input.OldValue != nil && input.NewValue != nil
	if input.TargetType == TargetEstimateChange && !hasDelta {
		return Approval{}, fmt.Errorf("%w: estimate change requires old and new values", ErrValidation)
	}

	target, err := s.repo.GetTarget(ctx, input.TargetType, input.TargetID)
	if err != nil {
		return Approval{}, err
	}

	now := time.Now().UTC()
	a := Approval{
		ID:          uuid.New(),
		TargetType:  input.TargetType,
		TargetID:    input.TargetID,
		State:       StateSubmitted,
		SubmittedBy: actor.ID,
		SubmittedAt: now,
		Version:     1,
	}
	a.History = []Event{{
		Seq:      1,
		State:    StateSubmitted,
		Actor:    strconv.FormatInt(actor.ID, 10),
		Comment:  input.Comment,
		OldValue: input.OldValue,
		NewValue: input.NewValue,
		At:       now,
	}}

	// Threshold auto-approval only applies when a numeric delta exists.
	auto := false
	if hasDelta {
		limits := s.thresholds(ctx)
		if BelowThreshold(*input.OldValue, *input.NewValue, limits) {
			auto = true
			a.State = StateFinanceApproved
			a.FinanceApprovedAt = &now
			a.FinanceComment = "auto-approved below threshold"
			a.History = append(a.History, Event{
				Seq:     2,
				State:   StateFinanceApproved,
				Actor:   SystemActor,
				Comment: "auto-approved below threshold",
				At:      now,
			})
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		if input.TargetType == TargetEstimateChange {
			if err := tx.SetTargetEstimate(ctx, a.TargetType, a.TargetID, *input.NewValue); err != nil {
				return err
			}
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     string(actor.Role),
			Action:   "approval.submit",
			Entity:   "approval",
			EntityID: a.ID.String(),
			Before:   deltaMeta(input.OldValue),
			After:    deltaMeta(input.NewValue),
			At:       now,
		})
	})
	if err != nil {
		return Approval{}, err
	}

	s.dispatch(ctx, s.notesForSubmit(ctx, a, target, auto, actor.ID))
	return a, nil
}

// FinanceApprove clears the finance stage. A director clears both stages in
// one call, appending two history entries atomically and applying the
// downstream effect once.
func (s *Service) FinanceApprove(ctx context.Context, id uuid.UUID, comment string, actor Actor) (Approval, error) {
	if !Allowed(ActionFinanceApprove, actor.Role) {
		return Approval{}, fmt.Errorf("%w: role %s may not finance-approve", ErrUnauthorized, actor.Role)
	}

	var updated Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		next, err := Next(ActionFinanceApprove, a.State)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		expected := a.Version

		a.State = next
		a.FinanceApprovedBy = &actor.ID
		a.FinanceApprovedAt = &now
		a.FinanceComment = comment
		events := []Event{{
			Seq:     len(a.History) + 1,
			State:   StateFinanceApproved,
			Actor:   strconv.FormatInt(actor.ID, 10),
			Comment: comment,
			At:      now,
		}}

		if actor.Role.Elevated() {
			a.State = StateCommitteeApproved
			a.CommitteeApprovedBy = &actor.ID
			a.CommitteeApprovedAt = &now
			a.CommitteeComment = comment
			events = append(events, Event{
				Seq:     len(a.History) + 2,
				State:   StateCommitteeApproved,
				Actor:   strconv.FormatInt(actor.ID, 10),
				Comment: "approved with director authority",
				At:      now,
			})
		}

		if err := tx.AppendEvents(ctx, a.ID, events); err != nil {
			return err
		}
		a.History = append(a.History, events...)
		if err := tx.UpdateHeader(ctx, a, expected); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     string(actor.Role),
			Action:   "approval.finance_approve",
			Entity:   "approval",
			EntityID: a.ID.String(),
			After:    map[string]any{"state": string(a.State)},
			At:       now,
		}); err != nil {
			return err
		}
		if a.State == StateCommitteeApproved {
			if err := s.apply(ctx, tx, a, actor, now); err != nil {
				return err
			}
		}
		updated = a
		return nil
	})
	if err != nil {
		return Approval{}, err
	}

	s.dispatch(ctx, s.notesForApproveStage(ctx, updated, actor))
	return updated, nil
}

// CommitteeApprove clears the committee stage, making the change final.
func (s *Service) CommitteeApprove(ctx context.Context, id uuid.UUID, comment string, actor Actor) (Approval, error) {
	if !Allowed(ActionCommitteeApprove, actor.Role) {
		return Approval{}, fmt.Errorf("%w: role %s may not committee-approve", ErrUnauthorized, actor.Role)
	}

	var updated Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		next, err := Next(ActionCommitteeApprove, a.State)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		expected := a.Version

		a.State = next
		a.CommitteeApprovedBy = &actor.ID
		a.CommitteeApprovedAt = &now
		a.CommitteeComment = comment
		event := Event{
			Seq:     len(a.History) + 1,
			State:   StateCommitteeApproved,
			Actor:   strconv.FormatInt(actor.ID, 10),
			Comment: comment,
			At:      now,
		}

		if err := tx.AppendEvents(ctx, a.ID, []Event{event}); err != nil {
			return err
		}
		a.History = append(a.History, event)
		if err := tx.UpdateHeader(ctx, a, expected); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     string(actor.Role),
			Action:   "approval.committee_approve",
			Entity:   "approval",
			EntityID: a.ID.String(),
			After:    map[string]any{"state": string(a.State)},
			At:       now,
		}); err != nil {
			return err
		}
		if err := s.apply(ctx, tx, a, actor, now); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Approval{}, err
	}

	s.dispatch(ctx, s.notesForFinal(ctx, updated))
	return updated, nil
}

// Reject declines the change from either review stage. The reason is
// mandatory. Estimate changes are reverted to the value retained in the
// Submitted history entry.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string, actor Actor) (Approval, error) {
	if !Allowed(ActionReject, actor.Role) {
		return Approval{}, fmt.Errorf("%w: role %s may not reject", ErrUnauthorized, actor.Role)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Approval{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}

	var updated Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		next, err := Next(ActionReject, a.State)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		expected := a.Version

		a.State = next
		a.RejectedBy = &actor.ID
		a.RejectedAt = &now
		a.RejectionReason = reason
		event := Event{
			Seq:     len(a.History) + 1,
			State:   StateRejected,
			Actor:   strconv.FormatInt(actor.ID, 10),
			Comment: reason,
			At:      now,
		}

		if err := tx.AppendEvents(ctx, a.ID, []Event{event}); err != nil {
			return err
		}
		a.History = append(a.History, event)
		if err := tx.UpdateHeader(ctx, a, expected); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Role:     string(actor.Role),
			Action:   "approval.reject",
			Entity:   "approval",
			EntityID: a.ID.String(),
			After:    map[string]any{"state": string(a.State), "reason": reason},
			At:       now,
		}); err != nil {
			return err
		}
		if err := s.revert(ctx, tx, a, actor, now); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Approval{}, err
	}

	s.dispatch(ctx, s.notesForFinal(ctx, updated))
	return updated, nil
}

// Get returns one approval with its history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Approval, error) {
	return s.repo.Get(ctx, id)
}

// List returns approvals matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Approval, error) {
	return s.repo.List(ctx, filter)
}

// ListPendingFor returns the approvals awaiting the actor's stage: finance
// sees submitted records, committee sees finance-approved ones, a director
// sees both.
func (s *Service) ListPendingFor(ctx context.Context, actor Actor) ([]Approval, error) {
	var states []State
	switch {
	case actor.Role.Elevated():
		states = []State{StateSubmitted, StateFinanceApproved}
	case actor.Role == users.RoleFinance:
		states = []State{StateSubmitted}
	case actor.Role == users.RoleCommittee:
		states = []State{StateFinanceApproved}
	default:
		return nil, nil
	}
	return s.repo.List(ctx, ListFilter{States: states})
}

// apply confirms the change on final approval. The value was already written
// optimistically at submit time, so this is an audit confirmation only, and
// only estimate changes carry a downstream effect.
func (s *Service) apply(ctx context.Context, tx TxRepository, a Approval, actor Actor, now time.Time) error {
	if a.TargetType != TargetEstimateChange {
		return nil
	}
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Role:     string(actor.Role),
		Action:   "approval.apply",
		Entity:   string(a.TargetType),
		EntityID: strconv.FormatInt(a.TargetID, 10),
		At:       now,
	})
}

// revert undoes the optimistic write by restoring the old value retained in
// the Submitted history entry.
func (s *Service) revert(ctx context.Context, tx TxRepository, a Approval, actor Actor, now time.Time) error {
	if a.TargetType != TargetEstimateChange {
		return nil
	}
	submitted, ok := a.submittedEvent()
	if !ok || submitted.OldValue == nil {
		return fmt.Errorf("approval %s: submitted entry with old value missing", a.ID)
	}
	if err := tx.SetTargetEstimate(ctx, a.TargetType, a.TargetID, *submitted.OldValue); err != nil {
		return err
	}
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Role:     string(actor.Role),
		Action:   "approval.revert",
		Entity:   string(a.TargetType),
		EntityID: strconv.FormatInt(a.TargetID, 10),
		Before:   deltaMeta(submitted.NewValue),
		After:    deltaMeta(submitted.OldValue),
		At:       now,
	})
}

func (s *Service) thresholds(ctx context.Context) Thresholds {
	if s.settings == nil {
		return DefaultThresholds()
	}
	limits, err := s.settings.Thresholds(ctx)
	if err != nil {
		s.logger.Warn("load thresholds, using defaults", slog.Any("error", err))
		return DefaultThresholds()
	}
	return limits
}

func deltaMeta(v *float64) map[string]any {
	if v == nil {
		return nil
	}
	return map[string]any{"estimate_usd": *v}
}
