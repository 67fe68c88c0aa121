package approval

import "math"

// Default threshold limits applied when settings are unset.
const (
	DefaultUSDLimit     = 5000.0
	DefaultPercentLimit = 10.0
)

// Thresholds are the process-wide materiality limits for estimate changes.
type Thresholds struct {
	USDLimit     float64
	PercentLimit float64
}

// DefaultThresholds returns the built-in limits.
func DefaultThresholds() Thresholds {
	return Thresholds{USDLimit: DefaultUSDLimit, PercentLimit: DefaultPercentLimit}
}

func (t Thresholds) normalized() Thresholds {
	if t.USDLimit <= 0 {
		t.USDLimit = DefaultUSDLimit
	}
	if t.PercentLimit <= 0 {
		t.PercentLimit = DefaultPercentLimit
	}
	return t
}

// BelowThreshold reports whether a change from oldValue to newValue is
// immaterial, i.e. may skip finance review. Both limits must hold: breaching
// either one forces human review. A change from a zero baseline counts as a
// 100% change, so it only auto-passes if the absolute amount is also below
// the dollar limit.
func BelowThreshold(oldValue, newValue float64, t Thresholds) bool {
	t = t.normalized()
	amount := math.Abs(newValue - oldValue)
	percent := 100.0
	if oldValue > 0 {
		percent = amount / oldValue * 100
	}
	return amount < t.USDLimit && percent < t.PercentLimit
}
