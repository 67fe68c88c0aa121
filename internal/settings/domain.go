package settings

import (
	"errors"
	"time"

	"github.com/atlas-grants/atlas-grants/internal/approval"
)

// ThresholdSettings is the persisted auto-approval configuration. A single
// row holds the process-wide limits.
type ThresholdSettings struct {
	USDLimit     float64   `json:"usd_limit"`
	PercentLimit float64   `json:"percent_limit"`
	UpdatedBy    *int64    `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Thresholds converts the row into the engine's value type.
func (s ThresholdSettings) Thresholds() approval.Thresholds {
	return approval.Thresholds{USDLimit: s.USDLimit, PercentLimit: s.PercentLimit}
}

var ErrValidation = errors.New("settings: validation failed")
