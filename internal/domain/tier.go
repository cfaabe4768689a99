package domain

import "github.com/shopspring/decimal"

// Tier is a risk bucket carved out of the total budget. Tiers are recreated
// wholesale on every rebalance; only CurrentPnl survives the recomputation.
type Tier struct {
	TotalCapital     decimal.Decimal `json:"total_capital_usdt"`
	AvailableCapital decimal.Decimal `json:"available_capital_usdt"`
	CurrentPnl       decimal.Decimal `json:"current_pnl_usdt"`
	MaxLossThreshold decimal.Decimal `json:"max_loss_threshold_usdt"`
}

// MaxLossBreached reports whether the tier's realized loss has reached its
// configured loss threshold.
func (t *Tier) MaxLossBreached() bool {
	if t == nil {
		return false
	}
	return t.CurrentPnl.IsNegative() && t.CurrentPnl.Abs().GreaterThanOrEqual(t.MaxLossThreshold)
}
