package performance

import (
	"fmt"

	"omni-trader/internal/config"
	"omni-trader/internal/models"
)

// Check is one target comparison.
type Check struct {
	Name   string  `json:"name" yaml:"name"`
	Target float64 `json:"target" yaml:"target"`
	Actual float64 `json:"actual" yaml:"actual"`
	Passed bool    `json:"passed" yaml:"passed"`
}

// Validation is the outcome of comparing metrics with the targets.
type Validation struct {
	Passed bool    `json:"passed" yaml:"passed"`
	Checks []Check `json:"checks" yaml:"checks"`
}

// Shortfalls describes every failed check.
func (v Validation) Shortfalls() []string {
	var out []string
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, fmt.Sprintf("%s: %.4f against target %.4f", c.Name, c.Actual, c.Target))
		}
	}
	return out
}

// Validate compares m with the targets. Win rate and average profit are
// judged against their targets scaled by the configured tolerances; the
// deepest drawdown must stay within maxDrawdown.
func Validate(m models.PerformanceMetrics, targets config.TargetConfig, maxDrawdown float64) Validation {
	avg := m.AvgProfitPerTrade.InexactFloat64()
	checks := []Check{
		{
			Name:   "trade_count",
			Target: float64(targets.MinTrades),
			Actual: float64(m.TotalTrades),
			Passed: m.TotalTrades >= targets.MinTrades,
		},
		{
			Name:   "win_rate",
			Target: targets.WinRate * targets.Tolerance,
			Actual: m.WinRate,
			Passed: m.WinRate >= targets.WinRate*targets.Tolerance,
		},
		{
			Name:   "avg_profit_per_trade",
			Target: targets.AvgProfitPerTrade * targets.ProfitTolerance,
			Actual: avg,
			Passed: avg >= targets.AvgProfitPerTrade*targets.ProfitTolerance,
		},
		{
			Name:   "max_drawdown",
			Target: maxDrawdown,
			Actual: m.MaxDrawdownReached,
			Passed: m.MaxDrawdownReached <= maxDrawdown,
		},
	}

	v := Validation{Passed: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			v.Passed = false
		}
	}
	return v
}
