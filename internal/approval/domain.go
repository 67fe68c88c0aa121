package approval

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-grants/atlas-grants/internal/users"
)

// State is the lifecycle state of an approval record.
type State string

const (
	// StateDraft is reserved and never produced by any transition.
	StateDraft State = "DRAFT"
	// StateSubmitted means the change awaits finance review.
	StateSubmitted State = "SUBMITTED"
	// StateFinanceApproved means the change awaits committee review.
	StateFinanceApproved State = "FINANCE_APPROVED"
	// StateCommitteeApproved is the accepted terminal state.
	StateCommitteeApproved State = "COMMITTEE_APPROVED"
	// StateRejected is the declined terminal state.
	StateRejected State = "REJECTED"
)

var terminalStates = map[State]bool{
	StateCommitteeApproved: true,
	StateRejected:          true,
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// TargetType identifies what kind of object is being changed.
type TargetType string

const (
	// TargetEstimateChange revises an activity's budget estimate.
	TargetEstimateChange TargetType = "ESTIMATE_CHANGE"
	// TargetActualEntry records spend against an activity.
	TargetActualEntry TargetType = "ACTUAL_ENTRY"
	// TargetStatusChange changes an activity's status.
	TargetStatusChange TargetType = "STATUS_CHANGE"
)

// Valid reports whether the target type is known.
func (t TargetType) Valid() bool {
	switch t {
	case TargetEstimateChange, TargetActualEntry, TargetStatusChange:
		return true
	}
	return false
}

// SystemActor labels history entries appended by the engine itself.
const SystemActor = "system"

// Event is one entry of the append-only transition history. The history is
// the authoritative audit trail and the only place old/new values are kept.
type Event struct {
	Seq      int
	State    State
	Actor    string
	Comment  string
	OldValue *float64
	NewValue *float64
	At       time.Time
}

// Approval tracks the review state for one proposed change.
type Approval struct {
	ID         uuid.UUID
	TargetType TargetType
	TargetID   int64
	State      State

	SubmittedBy int64
	SubmittedAt time.Time

	FinanceApprovedBy *int64
	FinanceApprovedAt *time.Time
	FinanceComment    string

	CommitteeApprovedBy *int64
	CommitteeApprovedAt *time.Time
	CommitteeComment    string

	RejectedBy      *int64
	RejectedAt      *time.Time
	RejectionReason string

	// Version guards concurrent read-modify-write cycles on the record.
	Version int64

	History []Event
}

// Replay folds the history from the pre-submission state. An approval's
// current state must always equal the fold of its history.
func Replay(events []Event) State {
	state := StateDraft
	for _, evt := range events {
		state = evt.State
	}
	return state
}

// submittedEvent returns the initial Submitted history entry, which retains
// the proposed old/new values used by revert.
func (a Approval) submittedEvent() (Event, bool) {
	for _, evt := range a.History {
		if evt.State == StateSubmitted {
			return evt, true
		}
	}
	return Event{}, false
}

// Actor identifies who performs an action against an approval.
type Actor struct {
	ID   int64
	Role users.Role
}

var (
	// ErrNotFound indicates the approval or its target does not exist.
	ErrNotFound = errors.New("approval: not found")
	// ErrInvalidTransition occurs when an action is not legal from the current state.
	ErrInvalidTransition = errors.New("approval: invalid transition")
	// ErrUnauthorized occurs when the actor's role is not in the action's allow-list.
	ErrUnauthorized = errors.New("approval: actor role not allowed")
	// ErrValidation indicates a missing or malformed mandatory field.
	ErrValidation = errors.New("approval: invalid input")
	// ErrStaleState indicates a concurrent update won; refetch and retry.
	ErrStaleState = errors.New("approval: stale state")
)
