package activity

import (
	"errors"
	"time"
)

// Status of a funded activity.
type Status string

const (
	StatusPlanned   Status = "PLANNED"
	StatusActive    Status = "ACTIVE"
	StatusOnHold    Status = "ON_HOLD"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusActive, StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Activity is a funded line of work with a budget estimate and running
// actuals. Estimate changes go through the approval workflow, not through
// direct updates.
type Activity struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Objective   string    `json:"objective"`
	Currency    string    `json:"currency"`
	EstimateUSD float64   `json:"estimate_usd"`
	ActualUSD   float64   `json:"actual_usd"`
	Status      Status    `json:"status"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Variance is the remaining budget headroom.
func (a Activity) Variance() float64 {
	return a.EstimateUSD - a.ActualUSD
}

var (
	ErrNotFound      = errors.New("activity: not found")
	ErrDuplicateCode = errors.New("activity: code already exists")
	ErrValidation    = errors.New("activity: validation failed")
)
