// Package schedule holds learning-rate policies.
package schedule

import "github.com/pkg/errors"

// OneCycle is a triangular policy: the rate climbs linearly from MaxLR/10 to
// MaxLR over the first half of the steps and comes back down over the second.
type OneCycle struct {
	MaxLR      float64
	TotalSteps int
}

// NewOneCycle validates the policy parameters.
func NewOneCycle(maxLR float64, totalSteps int) (OneCycle, error) {
	if maxLR <= 0 {
		return OneCycle{}, errors.Errorf("schedule: max learning rate must be positive, got %g", maxLR)
	}
	if totalSteps <= 0 {
		return OneCycle{}, errors.Errorf("schedule: total steps must be positive, got %d", totalSteps)
	}
	return OneCycle{MaxLR: maxLR, TotalSteps: totalSteps}, nil
}

// MinLR is the rate at both ends of the cycle.
func (c OneCycle) MinLR() float64 { return c.MaxLR / 10 }

// LR returns the rate for a zero-based step. Steps past the end keep MinLR.
func (c OneCycle) LR(step int) float64 {
	if step <= 0 || c.TotalSteps <= 1 {
		return c.MinLR()
	}
	if step >= c.TotalSteps {
		return c.MinLR()
	}
	half := float64(c.TotalSteps) / 2
	s := float64(step)
	var frac float64
	if s <= half {
		frac = s / half
	} else {
		frac = (float64(c.TotalSteps) - s) / half
	}
	return c.MinLR() + frac*(c.MaxLR-c.MinLR())
}
