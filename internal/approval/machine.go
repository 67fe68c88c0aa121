package approval

import (
	"fmt"

	"github.com/atlas-grants/atlas-grants/internal/users"
)

// Action enumerates the operations accepted by the state machine.
type Action string

const (
	ActionSubmit           Action = "SUBMIT"
	ActionFinanceApprove   Action = "FINANCE_APPROVE"
	ActionCommitteeApprove Action = "COMMITTEE_APPROVE"
	ActionReject           Action = "REJECT"
)

// transition declares who may perform an action, the states it is legal
// from, and the state it produces. The elevated shortcut at finance-approve
// time and auto-approval at submit time are layered on top by the service.
type transition struct {
	roles []users.Role
	from  []State
	to    State
}

var transitions = map[Action]transition{
	ActionSubmit: {
		roles: []users.Role{users.RoleProgram, users.RoleDirector},
		from:  nil, // creates a new record
		to:    StateSubmitted,
	},
	ActionFinanceApprove: {
		roles: []users.Role{users.RoleFinance, users.RoleDirector},
		from:  []State{StateSubmitted},
		to:    StateFinanceApproved,
	},
	ActionCommitteeApprove: {
		roles: []users.Role{users.RoleCommittee, users.RoleDirector},
		from:  []State{StateFinanceApproved},
		to:    StateCommitteeApproved,
	},
	ActionReject: {
		roles: []users.Role{users.RoleFinance, users.RoleCommittee, users.RoleDirector},
		from:  []State{StateSubmitted, StateFinanceApproved},
		to:    StateRejected,
	},
}

// Allowed reports whether the role is in the action's allow-list.
func Allowed(action Action, role users.Role) bool {
	rule, ok := transitions[action]
	if !ok {
		return false
	}
	for _, r := range rule.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Next returns the state the action produces from the current state, or an
// invalid-transition error naming the current state.
func Next(action Action, current State) (State, error) {
	rule, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %s", ErrInvalidTransition, action)
	}
	for _, from := range rule.from {
		if from == current {
			return rule.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s not legal from state %s", ErrInvalidTransition, action, current)
}
