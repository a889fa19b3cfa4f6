package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/wavebot/internal/controller"
)

// Thresholds returns the controller thresholds configured in [trading].
func (t TradingConfig) Thresholds() controller.Thresholds {
	return controller.Thresholds{
		StopLoss:         t.StopLoss,
		MaxSpread:        t.MaxSpread,
		StartAboveTarget: t.StartAboveTarget,
		Epsilon:          t.Epsilon,
	}
}

// thresholdOverride is one symbol's entry in the symbols file. Unset fields
// inherit the base thresholds.
type thresholdOverride struct {
	StopLoss         *float64 `yaml:"stop_loss"`
	MaxSpread        *float64 `yaml:"max_spread"`
	StartAboveTarget *float64 `yaml:"start_above_target"`
	Epsilon          *float64 `yaml:"epsilon"`
}

type symbolsFile struct {
	Symbols map[string]thresholdOverride `yaml:"symbols"`
}

// SymbolThresholds resolves thresholds per symbol, falling back to a base set.
type SymbolThresholds struct {
	base      controller.Thresholds
	overrides map[string]controller.Thresholds
}

// NewSymbolThresholds returns a resolver with no overrides.
func NewSymbolThresholds(base controller.Thresholds) *SymbolThresholds {
	return &SymbolThresholds{base: base, overrides: map[string]controller.Thresholds{}}
}

// For returns the thresholds for symbol, e.g. "USDT_LTC".
func (s *SymbolThresholds) For(symbol string) controller.Thresholds {
	if th, ok := s.overrides[strings.ToUpper(symbol)]; ok {
		return th
	}
	return s.base
}

// Symbols lists the symbols that carry an override.
func (s *SymbolThresholds) Symbols() []string {
	out := make([]string, 0, len(s.overrides))
	for sym := range s.overrides {
		out = append(out, sym)
	}
	return out
}

// LoadSymbolThresholds reads the YAML symbols file at path and merges every
// entry over base. An empty path yields a resolver without overrides.
//
//	symbols:
//	  USDT_LTC:
//	    stop_loss: 0.01
//	    max_spread: 0.004
func LoadSymbolThresholds(path string, base controller.Thresholds) (*SymbolThresholds, error) {
	res := NewSymbolThresholds(base)
	if path == "" {
		return res, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parseSymbolThresholds(b, res)
}

func parseSymbolThresholds(b []byte, res *SymbolThresholds) (*SymbolThresholds, error) {
	var f symbolsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: parse symbols yaml: %w", err)
	}

	var errs []string
	for sym, o := range f.Symbols {
		th := res.base
		if o.StopLoss != nil {
			th.StopLoss = *o.StopLoss
		}
		if o.MaxSpread != nil {
			th.MaxSpread = *o.MaxSpread
		}
		if o.StartAboveTarget != nil {
			th.StartAboveTarget = *o.StartAboveTarget
		}
		if o.Epsilon != nil {
			th.Epsilon = *o.Epsilon
		}
		if err := th.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", sym, strings.ReplaceAll(err.Error(), "\n", "; ")))
			continue
		}
		res.overrides[strings.ToUpper(sym)] = th
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: invalid symbol thresholds:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return res, nil
}
