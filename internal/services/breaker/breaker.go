// Package breaker derives the global risk status from ledger drawdown
// metrics. Evaluation is pure; applying the resulting status transition to
// the ledger is the orchestrator's job.
package breaker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zipaJopa/capalloc/internal/domain"
)

// Limits holds the drawdown thresholds that trip the breaker.
type Limits struct {
	FromInitial float64
	FromPeak    float64
}

// DefaultLimits mirrors the deployment defaults: 30% drawdown from the
// genesis budget, 20% from the historical peak.
func DefaultLimits() Limits {
	return Limits{FromInitial: 0.30, FromPeak: 0.20}
}

// TierWarning flags a tier whose realized loss reached its loss threshold.
// Warnings never change the global status.
type TierWarning struct {
	Tier          string
	CurrentPnl    decimal.Decimal
	LossThreshold decimal.Decimal
}

func (w TierWarning) String() string {
	return fmt.Sprintf("risk tier '%s' P&L ($%s) has breached its max loss threshold ($%s)",
		w.Tier, w.CurrentPnl.StringFixed(2), w.LossThreshold.StringFixed(2))
}

// Evaluation is the derived risk verdict for one ledger state.
type Evaluation struct {
	Status       domain.BreakerStatus
	Reason       string
	TierWarnings []TierWarning
}

// Changed reports whether applying the evaluation transitions the ledger's
// persisted status.
func (e Evaluation) Changed(current domain.BreakerStatus) bool {
	return e.Status != current
}

// Evaluate derives the breaker status in strict precedence order: drawdown
// from initial first, then drawdown from peak (only once the ledger has ever
// been profitable), then per-tier loss warnings. When no condition holds the
// status is active, auto-resetting any previously tripped state.
func Evaluate(led *domain.Ledger, limits Limits) Evaluation {
	if led.InitialBudget.IsPositive() {
		drawdown := led.InitialBudget.Sub(led.CurrentTotalBudget).Div(led.InitialBudget)
		limit := decimal.NewFromFloat(limits.FromInitial)
		if drawdown.GreaterThanOrEqual(limit) {
			return Evaluation{
				Status: domain.BreakerInitialDrawdownTripped,
				Reason: fmt.Sprintf("total budget drawdown (%s%%) exceeded initial limit (%s%%)",
					drawdown.Mul(decimal.NewFromInt(100)).StringFixed(2),
					limit.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			}
		}
	}

	if led.PeakTotalBudget.GreaterThan(led.InitialBudget) {
		drawdown := led.PeakTotalBudget.Sub(led.CurrentTotalBudget).Div(led.PeakTotalBudget)
		limit := decimal.NewFromFloat(limits.FromPeak)
		if drawdown.GreaterThanOrEqual(limit) {
			return Evaluation{
				Status: domain.BreakerPeakDrawdownTripped,
				Reason: fmt.Sprintf("total budget drawdown from peak (%s%%) exceeded limit (%s%%)",
					drawdown.Mul(decimal.NewFromInt(100)).StringFixed(2),
					limit.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			}
		}
	}

	eval := Evaluation{Status: domain.BreakerActive}
	for name, tier := range led.RiskTiers {
		if tier.MaxLossBreached() {
			eval.TierWarnings = append(eval.TierWarnings, TierWarning{
				Tier:          name,
				CurrentPnl:    tier.CurrentPnl,
				LossThreshold: tier.MaxLossThreshold,
			})
		}
	}
	return eval
}
