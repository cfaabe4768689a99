package domain

import "github.com/shopspring/decimal"

// Strategy is a named capital-consuming (or purely informational) activity.
// The set of strategies is static configuration; the records below are
// recreated wholesale on every rebalance, carrying forward CurrentPnl and
// whatever capital is locked in open positions.
type Strategy struct {
	RiskTier                 string          `json:"risk_tier"`
	TierShare                float64         `json:"tier_share_percentage"`
	PotentialCapital         decimal.Decimal `json:"potential_capital_usdt"`
	AllocatedCapital         decimal.Decimal `json:"allocated_capital_usdt"`
	AvailableForNewPositions decimal.Decimal `json:"available_for_new_positions_usdt"`
	CapitalInUse             decimal.Decimal `json:"capital_in_use_usdt"`
	CurrentPnl               decimal.Decimal `json:"current_pnl_usdt"`
	MaxCapitalPerTrade       decimal.Decimal `json:"max_capital_per_trade_usdt"`
	MaxConcurrentPositions   int             `json:"max_concurrent_positions"`
	RequiresCapital          bool            `json:"requires_capital"`
	Description              string          `json:"description,omitempty"`
}
