package approval

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlas-grants/atlas-grants/internal/shared"
	"github.com/atlas-grants/atlas-grants/internal/users"
)

type memoryRepo struct {
	approvals map[uuid.UUID]*Approval
	targets   map[int64]*Target
	audits    []shared.AuditLog

	// afterLock runs once after a Lock read, to simulate a concurrent
	// writer slipping in between read and write.
	afterLock func()
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		approvals: make(map[uuid.UUID]*Approval),
		targets:   make(map[int64]*Target),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Approval, error) {
	a, ok := r.approvals[id]
	if !ok {
		return Approval{}, ErrNotFound
	}
	return cloneApproval(*a), nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Approval, error) {
	var list []Approval
	for _, a := range r.approvals {
		if len(filter.States) > 0 && !containsState(filter.States, a.State) {
			continue
		}
		if filter.TargetType != nil && a.TargetType != *filter.TargetType {
			continue
		}
		if filter.TargetID != nil && a.TargetID != *filter.TargetID {
			continue
		}
		if filter.SubmittedBy != nil && a.SubmittedBy != *filter.SubmittedBy {
			continue
		}
		list = append(list, cloneApproval(*a))
	}
	return list, nil
}

func (r *memoryRepo) GetTarget(ctx context.Context, targetType TargetType, targetID int64) (Target, error) {
	t, ok := r.targets[targetID]
	if !ok {
		return Target{}, ErrNotFound
	}
	return *t, nil
}

func (tx *memoryTx) Insert(ctx context.Context, a Approval) error {
	stored := cloneApproval(a)
	tx.repo.approvals[a.ID] = &stored
	return nil
}

func (tx *memoryTx) Lock(ctx context.Context, id uuid.UUID) (Approval, error) {
	a, ok := tx.repo.approvals[id]
	if !ok {
		return Approval{}, ErrNotFound
	}
	snapshot := cloneApproval(*a)
	if tx.repo.afterLock != nil {
		tx.repo.afterLock()
		tx.repo.afterLock = nil
	}
	return snapshot, nil
}

func (tx *memoryTx) AppendEvents(ctx context.Context, approvalID uuid.UUID, events []Event) error {
	a, ok := tx.repo.approvals[approvalID]
	if !ok {
		return ErrNotFound
	}
	a.History = append(a.History, events...)
	return nil
}

func (tx *memoryTx) UpdateHeader(ctx context.Context, a Approval, expectedVersion int64) error {
	stored, ok := tx.repo.approvals[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrStaleState
	}
	history := stored.History
	updated := cloneApproval(a)
	updated.History = history
	updated.Version = expectedVersion + 1
	tx.repo.approvals[a.ID] = &updated
	return nil
}

func (tx *memoryTx) SetTargetEstimate(ctx context.Context, targetType TargetType, targetID int64, value float64) error {
	t, ok := tx.repo.targets[targetID]
	if !ok {
		return ErrNotFound
	}
	t.Estimate = value
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	tx.repo.audits = append(tx.repo.audits, log)
	return nil
}

func cloneApproval(a Approval) Approval {
	a.History = append([]Event(nil), a.History...)
	return a
}

func containsState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

type stubDirectory struct {
	users []users.User
}

func (d *stubDirectory) Get(ctx context.Context, id int64) (users.User, error) {
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return users.User{}, shared.ErrNotFound
}

func (d *stubDirectory) ListByRoles(ctx context.Context, roles ...users.Role) ([]users.User, error) {
	var out []users.User
	for _, u := range d.users {
		for _, role := range roles {
			if u.Role == role {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

type stubNotifier struct {
	sent [][]Notification
}

func (n *stubNotifier) Send(ctx context.Context, notes []Notification) error {
	n.sent = append(n.sent, notes)
	return nil
}

func (n *stubNotifier) all() []Notification {
	var out []Notification
	for _, batch := range n.sent {
		out = append(out, batch...)
	}
	return out
}

type stubSettings struct {
	limits Thresholds
}

func (s *stubSettings) Thresholds(ctx context.Context) (Thresholds, error) {
	return s.limits, nil
}

type fixture struct {
	repo      *memoryRepo
	directory *stubDirectory
	notifier  *stubNotifier
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	repo.targets[7] = &Target{ID: 7, Code: "ACT-007", Title: "Water point rehabilitation", Estimate: 1000}
	directory := &stubDirectory{users: []users.User{
		{ID: 1, Name: "Paula", Role: users.RoleProgram, IsActive: true},
		{ID: 2, Name: "Frank", Role: users.RoleFinance, IsActive: true},
		{ID: 3, Name: "Carla", Role: users.RoleCommittee, IsActive: true},
		{ID: 4, Name: "Dana", Role: users.RoleDirector, IsActive: true},
	}}
	notifier := &stubNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, directory, notifier, &stubSettings{limits: DefaultThresholds()}, logger, "https://atlas.example.org")
	return &fixture{repo: repo, directory: directory, notifier: notifier, service: svc}
}

func f64(v float64) *float64 { return &v }

var (
	program   = Actor{ID: 1, Role: users.RoleProgram}
	finance   = Actor{ID: 2, Role: users.RoleFinance}
	committee = Actor{ID: 3, Role: users.RoleCommittee}
	director  = Actor{ID: 4, Role: users.RoleDirector}
)

func TestSubmitBelowThresholdAutoApproves(t *testing.T) {
	fx := newFixture(t)

	a, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(1050),
	}, program)
	require.NoError(t, err)

	require.Equal(t, StateFinanceApproved, a.State)
	require.Len(t, a.History, 2)
	require.Equal(t, StateSubmitted, a.History[0].State)
	require.Equal(t, "1", a.History[0].Actor)
	require.Equal(t, StateFinanceApproved, a.History[1].State)
	require.Equal(t, SystemActor, a.History[1].Actor)
	require.NotNil(t, a.FinanceApprovedAt)
	require.Nil(t, a.CommitteeApprovedAt)

	// Optimistic apply writes the proposed value immediately.
	require.Equal(t, 1050.0, fx.repo.targets[7].Estimate)

	// Auto-pass notifies committee and director, not finance.
	notes := fx.notifier.all()
	require.Len(t, notes, 2)
	got := map[int64]string{}
	for _, n := range notes {
		got[n.UserID] = n.Category
	}
	require.Equal(t, map[int64]string{3: CategoryPendingCommittee, 4: CategoryPendingCommittee}, got)
}

func TestSubmitMaterialChangeStaysSubmitted(t *testing.T) {
	fx := newFixture(t)

	a, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, program)
	require.NoError(t, err)

	require.Equal(t, StateSubmitted, a.State)
	require.Len(t, a.History, 1)
	require.Equal(t, a.State, Replay(a.History))

	// Finance and director are notified; the submitter is excluded.
	for _, n := range fx.notifier.all() {
		require.NotEqual(t, a.SubmittedBy, n.UserID)
		require.Equal(t, CategoryPendingFinance, n.Category)
	}
	require.Len(t, fx.notifier.all(), 2)
}

func TestSubmitWithoutDeltaRequiresFullReview(t *testing.T) {
	fx := newFixture(t)

	a, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetStatusChange,
		TargetID:   7,
	}, program)
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, a.State)
	require.Len(t, a.History, 1)

	// Status changes never touch the estimate.
	require.Equal(t, 1000.0, fx.repo.targets[7].Estimate)
}

func TestSubmitEstimateChangeRequiresValues(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		NewValue:   f64(2000),
	}, program)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSubmitUnauthorizedRole(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, finance)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, fx.repo.approvals)
}

func TestSubmitUnknownTarget(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   99,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, program)
	require.ErrorIs(t, err, ErrNotFound)
}

func submitMaterial(t *testing.T, fx *fixture) Approval {
	t.Helper()
	a, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(1000),
		NewValue:   f64(5000),
	}, program)
	require.NoError(t, err)
	fx.notifier.sent = nil
	fx.repo.audits = nil
	return a
}

func TestFinanceApproveByFinance(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)

	updated, err := fx.service.FinanceApprove(context.Background(), a.ID, "checks out", finance)
	require.NoError(t, err)

	require.Equal(t, StateFinanceApproved, updated.State)
	require.NotNil(t, updated.FinanceApprovedAt)
	require.Nil(t, updated.CommitteeApprovedAt)
	require.Equal(t, int64(2), *updated.FinanceApprovedBy)
	require.Len(t, updated.History, 2)
	require.Equal(t, updated.State, Replay(updated.History))

	// Committee and director notified; the approving actor is not.
	notes := fx.notifier.all()
	require.Len(t, notes, 2)
	for _, n := range notes {
		require.NotEqual(t, finance.ID, n.UserID)
		require.Equal(t, CategoryPendingCommittee, n.Category)
	}
	require.Zero(t, countAudits(fx.repo.audits, "approval.apply"))
}

func TestFinanceApproveByDirectorClearsBothStages(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)

	updated, err := fx.service.FinanceApprove(context.Background(), a.ID, "urgent", director)
	require.NoError(t, err)

	require.Equal(t, StateCommitteeApproved, updated.State)
	require.NotNil(t, updated.FinanceApprovedAt)
	require.NotNil(t, updated.CommitteeApprovedAt)
	require.Len(t, updated.History, 3)
	require.Equal(t, updated.State, Replay(updated.History))

	// Downstream apply confirmation fires exactly once.
	require.Equal(t, 1, countAudits(fx.repo.audits, "approval.apply"))

	// Only the submitter is notified of the final approval.
	notes := fx.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, a.SubmittedBy, notes[0].UserID)
	require.Equal(t, CategoryApproved, notes[0].Category)
}

func TestFinanceApproveWrongRole(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)

	_, err := fx.service.FinanceApprove(context.Background(), a.ID, "", committee)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCommitteeApproveFinalizes(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)
	_, err := fx.service.FinanceApprove(context.Background(), a.ID, "", finance)
	require.NoError(t, err)
	fx.notifier.sent = nil
	fx.repo.audits = nil

	updated, err := fx.service.CommitteeApprove(context.Background(), a.ID, "endorsed", committee)
	require.NoError(t, err)

	require.Equal(t, StateCommitteeApproved, updated.State)
	require.NotNil(t, updated.CommitteeApprovedAt)
	require.Equal(t, 1, countAudits(fx.repo.audits, "approval.apply"))
	require.Equal(t, updated.State, Replay(updated.History))

	notes := fx.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, a.SubmittedBy, notes[0].UserID)
}

func TestCommitteeApproveFromSubmittedFails(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)

	_, err := fx.service.CommitteeApprove(context.Background(), a.ID, "", committee)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), string(StateSubmitted))

	stored, err := fx.service.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	require.Equal(t, StateSubmitted, stored.State)
}

func TestRejectRequiresReason(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)

	_, err := fx.service.Reject(context.Background(), a.ID, "   ", finance)
	require.ErrorIs(t, err, ErrValidation)

	stored, err := fx.service.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, stored.State)
}

func TestRejectRevertsEstimate(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)
	_, err := fx.service.FinanceApprove(context.Background(), a.ID, "", finance)
	require.NoError(t, err)
	fx.notifier.sent = nil
	require.Equal(t, 5000.0, fx.repo.targets[7].Estimate)

	updated, err := fx.service.Reject(context.Background(), a.ID, "insufficient justification", committee)
	require.NoError(t, err)

	require.Equal(t, StateRejected, updated.State)
	require.Equal(t, "insufficient justification", updated.RejectionReason)
	require.NotNil(t, updated.RejectedAt)
	require.Equal(t, updated.State, Replay(updated.History))

	// The optimistic write is undone.
	require.Equal(t, 1000.0, fx.repo.targets[7].Estimate)

	// Submitter gets the reason verbatim.
	notes := fx.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, a.SubmittedBy, notes[0].UserID)
	require.Equal(t, CategoryRejected, notes[0].Category)
	require.Contains(t, notes[0].Body, "insufficient justification")
}

func TestRejectTerminalRecordFails(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)
	_, err := fx.service.FinanceApprove(context.Background(), a.ID, "", director)
	require.NoError(t, err)

	_, err = fx.service.Reject(context.Background(), a.ID, "too late", committee)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), string(StateCommitteeApproved))
}

func TestStaleVersionLoses(t *testing.T) {
	fx := newFixture(t)
	a := submitMaterial(t, fx)

	fx.repo.afterLock = func() {
		fx.repo.approvals[a.ID].Version++
	}

	_, err := fx.service.FinanceApprove(context.Background(), a.ID, "", finance)
	require.ErrorIs(t, err, ErrStaleState)
}

func TestListPendingFor(t *testing.T) {
	fx := newFixture(t)
	submitted := submitMaterial(t, fx)

	second, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(5000),
		NewValue:   f64(9000),
	}, program)
	require.NoError(t, err)
	_, err = fx.service.FinanceApprove(context.Background(), second.ID, "", finance)
	require.NoError(t, err)

	forFinance, err := fx.service.ListPendingFor(context.Background(), finance)
	require.NoError(t, err)
	require.Len(t, forFinance, 1)
	require.Equal(t, submitted.ID, forFinance[0].ID)

	forCommittee, err := fx.service.ListPendingFor(context.Background(), committee)
	require.NoError(t, err)
	require.Len(t, forCommittee, 1)
	require.Equal(t, second.ID, forCommittee[0].ID)

	forDirector, err := fx.service.ListPendingFor(context.Background(), director)
	require.NoError(t, err)
	require.Len(t, forDirector, 2)

	forProgram, err := fx.service.ListPendingFor(context.Background(), program)
	require.NoError(t, err)
	require.Empty(t, forProgram)
}

func TestHistoryFoldMatchesStateAcrossLifecycles(t *testing.T) {
	fx := newFixture(t)

	// Approve path.
	a := submitMaterial(t, fx)
	_, err := fx.service.FinanceApprove(context.Background(), a.ID, "", finance)
	require.NoError(t, err)
	final, err := fx.service.CommitteeApprove(context.Background(), a.ID, "", committee)
	require.NoError(t, err)
	require.Equal(t, final.State, Replay(final.History))
	require.Equal(t, final.State, final.History[len(final.History)-1].State)

	// Reject path.
	b, err := fx.service.Submit(context.Background(), SubmitInput{
		TargetType: TargetEstimateChange,
		TargetID:   7,
		OldValue:   f64(5000),
		NewValue:   f64(12000),
	}, program)
	require.NoError(t, err)
	rejected, err := fx.service.Reject(context.Background(), b.ID, "not in plan", finance)
	require.NoError(t, err)
	require.Equal(t, rejected.State, Replay(rejected.History))
	require.Equal(t, rejected.State, rejected.History[len(rejected.History)-1].State)
}

func countAudits(logs []shared.AuditLog, action string) int {
	n := 0
	for _, log := range logs {
		if log.Action == action {
			n++
		}
	}
	return n
}
