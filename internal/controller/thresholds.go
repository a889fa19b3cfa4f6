package controller

import (
	"errors"
	"fmt"
)

// Thresholds are the trading parameters of one controller.
type Thresholds struct {
	// StopLoss is the fraction below the reference price the target is set to.
	StopLoss float64 `yaml:"stop_loss" toml:"stop_loss"`
	// MaxSpread is the widest relative spread at which the controller trades.
	MaxSpread float64 `yaml:"max_spread" toml:"max_spread"`
	// StartAboveTarget rejects an entry when the bid already overshot the
	// target by more than this fraction.
	StartAboveTarget float64 `yaml:"start_above_target" toml:"start_above_target"`
	// Epsilon is the smallest bid change treated as a new price.
	Epsilon float64 `yaml:"epsilon" toml:"epsilon"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StopLoss:         0.005,
		MaxSpread:        0.0025,
		StartAboveTarget: 0.015,
		Epsilon:          1e-10,
	}
}

// Validate checks every field and returns all problems at once.
func (t Thresholds) Validate() error {
	var errs []error
	if t.StopLoss <= 0 || t.StopLoss >= 1 {
		errs = append(errs, fmt.Errorf("stop_loss must be in (0, 1), got %v", t.StopLoss))
	}
	if t.MaxSpread <= 0 {
		errs = append(errs, fmt.Errorf("max_spread must be > 0, got %v", t.MaxSpread))
	}
	if t.StartAboveTarget < 0 {
		errs = append(errs, fmt.Errorf("start_above_target must be >= 0, got %v", t.StartAboveTarget))
	}
	if t.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("epsilon must be > 0, got %v", t.Epsilon))
	}
	return errors.Join(errs...)
}

// Spread is the relative distance of the ask above the bid, measured against
// the bid. Entries are gated on it.
func Spread(bid, ask float64) float64 {
	return (ask - bid) / bid
}

// ExitSpread is the same distance measured against the ask. Exits are gated
// on it, which makes the exit gate slightly looser than the entry gate.
func ExitSpread(bid, ask float64) float64 {
	return (ask - bid) / ask
}
