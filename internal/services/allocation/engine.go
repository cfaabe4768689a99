// Package allocation computes the nested budget allocation tree: total budget
// into risk tiers, tier capital into per-strategy limits. The computation is
// deterministic and touches no I/O; the orchestrator decides when to run it
// and what to do with the result.
package allocation

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/config"
	"github.com/zipaJopa/capalloc/internal/domain"
)

// moneyPrecision is the fixed scale for persisted money amounts.
const moneyPrecision = 2

// Round normalizes a money amount to the persisted 2-decimal scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPrecision)
}

// Compute rebuilds tier and strategy records for the given total budget.
// Prior state, when present, contributes only the carried-forward accumulators:
// tier and strategy CurrentPnl, and the capital locked in open positions.
// Strategies referencing unknown tiers are skipped with an error log rather
// than failing the whole computation.
func Compute(
	totalBudget decimal.Decimal,
	tiers map[string]config.TierConfig,
	strategies map[string]config.StrategyConfig,
	prev *domain.Ledger,
	logger *zap.Logger,
) (map[string]*domain.Tier, map[string]*domain.Strategy) {
	outTiers := make(map[string]*domain.Tier, len(tiers))
	outStrategies := make(map[string]*domain.Strategy, len(strategies))

	for name, cfg := range tiers {
		capital := Round(totalBudget.Mul(decimal.NewFromFloat(cfg.Percentage)))
		tier := &domain.Tier{
			TotalCapital:     capital,
			AvailableCapital: capital,
			CurrentPnl:       decimal.Zero,
			MaxLossThreshold: Round(capital.Mul(decimal.NewFromFloat(cfg.MaxLossPct))),
		}
		if prev != nil {
			if prior, ok := prev.RiskTiers[name]; ok {
				tier.CurrentPnl = prior.CurrentPnl
			}
		}
		outTiers[name] = tier
	}

	// Capital-requiring strategies split their tier's capital by normalized
	// share, so shares held by informational strategies do not dilute them.
	capitalShareByTier := make(map[string]decimal.Decimal, len(tiers))
	for _, cfg := range strategies {
		if !cfg.RequiresCapital {
			continue
		}
		sum := capitalShareByTier[cfg.RiskTier]
		capitalShareByTier[cfg.RiskTier] = sum.Add(decimal.NewFromFloat(cfg.TierShare))
	}

	for name, cfg := range strategies {
		tier, ok := outTiers[cfg.RiskTier]
		if !ok {
			logger.Error("strategy references unknown risk tier, skipping",
				zap.String("strategy", name),
				zap.String("risk_tier", cfg.RiskTier))
			continue
		}

		strat := &domain.Strategy{
			RiskTier:                 cfg.RiskTier,
			TierShare:                cfg.TierShare,
			PotentialCapital:         Round(tier.TotalCapital.Mul(decimal.NewFromFloat(cfg.TierShare))),
			AllocatedCapital:         decimal.Zero,
			AvailableForNewPositions: decimal.Zero,
			CapitalInUse:             decimal.Zero,
			CurrentPnl:               decimal.Zero,
			MaxCapitalPerTrade:       cfg.MaxCapitalPerTrade,
			MaxConcurrentPositions:   cfg.MaxConcurrentPositions,
			RequiresCapital:          cfg.RequiresCapital,
			Description:              cfg.Description,
		}

		if prev != nil {
			if prior, ok := prev.Strategies[name]; ok {
				strat.CurrentPnl = prior.CurrentPnl
			}
			strat.CapitalInUse = openCapital(prev.ActivePositions[name])
		}

		if cfg.RequiresCapital {
			denominator := capitalShareByTier[cfg.RiskTier]
			if denominator.IsPositive() {
				share := decimal.NewFromFloat(cfg.TierShare).Div(denominator)
				strat.AllocatedCapital = Round(tier.AvailableCapital.Mul(share))
				// Funds locked in open positions are not free; never
				// hand them out a second time.
				available := strat.AllocatedCapital.Sub(strat.CapitalInUse)
				if available.IsNegative() {
					available = decimal.Zero
				}
				strat.AvailableForNewPositions = available
			}
		}

		outStrategies[name] = strat
	}

	return outTiers, outStrategies
}

func openCapital(positions []domain.Position) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(pos.Capital)
	}
	return total
}
