package allocation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/config"
	"github.com/zipaJopa/capalloc/internal/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testTiers() map[string]config.TierConfig {
	return map[string]config.TierConfig{
		"conservative": {Percentage: 0.30, MaxLossPct: 0.10},
		"moderate":     {Percentage: 0.40, MaxLossPct: 0.15},
		"aggressive":   {Percentage: 0.30, MaxLossPct: 0.25},
	}
}

func testStrategies(t *testing.T) map[string]config.StrategyConfig {
	return map[string]config.StrategyConfig{
		"grid": {
			RiskTier: "conservative", TierShare: 0.60,
			MaxCapitalPerTrade: dec(t, "6.00"), MaxConcurrentPositions: 1, RequiresCapital: true,
		},
		"yield": {
			RiskTier: "conservative", TierShare: 0.40,
			MaxCapitalPerTrade: dec(t, "4.00"), MaxConcurrentPositions: 1, RequiresCapital: true,
		},
		"momentum": {
			RiskTier: "moderate", TierShare: 0.50,
			MaxCapitalPerTrade: dec(t, "5.00"), MaxConcurrentPositions: 2, RequiresCapital: true,
		},
		"arbitrage": {
			RiskTier: "moderate", TierShare: 0.25,
			MaxConcurrentPositions: 5, RequiresCapital: false,
		},
	}
}

func TestCompute_TierAllocations(t *testing.T) {
	tiers, _ := Compute(dec(t, "40.00"), testTiers(), testStrategies(t), nil, zap.NewNop())

	require.Len(t, tiers, 3)
	assert.True(t, tiers["conservative"].TotalCapital.Equal(dec(t, "12.00")))
	assert.True(t, tiers["moderate"].TotalCapital.Equal(dec(t, "16.00")))
	assert.True(t, tiers["aggressive"].TotalCapital.Equal(dec(t, "12.00")))

	assert.True(t, tiers["conservative"].MaxLossThreshold.Equal(dec(t, "1.20")))
	assert.True(t, tiers["moderate"].MaxLossThreshold.Equal(dec(t, "2.40")))
	assert.True(t, tiers["aggressive"].MaxLossThreshold.Equal(dec(t, "3.00")))

	for name, tier := range tiers {
		assert.True(t, tier.AvailableCapital.Equal(tier.TotalCapital), name)
		assert.True(t, tier.CurrentPnl.IsZero(), name)
	}
}

func TestCompute_NormalizedStrategyShares(t *testing.T) {
	_, strategies := Compute(dec(t, "40.00"), testTiers(), testStrategies(t), nil, zap.NewNop())

	// Shares 0.60/0.40 already sum to 1.0, so proportions are unchanged.
	assert.True(t, strategies["grid"].AllocatedCapital.Equal(dec(t, "7.20")))
	assert.True(t, strategies["yield"].AllocatedCapital.Equal(dec(t, "4.80")))
	assert.True(t, strategies["grid"].AvailableForNewPositions.Equal(dec(t, "7.20")))
	assert.True(t, strategies["yield"].AvailableForNewPositions.Equal(dec(t, "4.80")))

	// The informational arbitrage strategy holds 0.25 of the moderate tier
	// but never dilutes momentum, the tier's only capital consumer.
	assert.True(t, strategies["momentum"].AllocatedCapital.Equal(dec(t, "16.00")))
	assert.True(t, strategies["arbitrage"].AllocatedCapital.IsZero())
	assert.True(t, strategies["arbitrage"].AvailableForNewPositions.IsZero())
	assert.True(t, strategies["arbitrage"].PotentialCapital.Equal(dec(t, "4.00")))
}

func TestCompute_UnknownTierSkipsStrategy(t *testing.T) {
	strategyCfg := testStrategies(t)
	strategyCfg["ghost"] = config.StrategyConfig{
		RiskTier: "nonexistent", TierShare: 0.50,
		MaxCapitalPerTrade: dec(t, "1.00"), MaxConcurrentPositions: 1, RequiresCapital: true,
	}

	tiers, strategies := Compute(dec(t, "40.00"), testTiers(), strategyCfg, nil, zap.NewNop())

	_, ok := strategies["ghost"]
	assert.False(t, ok)
	assert.Len(t, tiers, 3)
	assert.True(t, strategies["grid"].AllocatedCapital.Equal(dec(t, "7.20")))
}

func TestCompute_CarriesForwardPnl(t *testing.T) {
	prev := &domain.Ledger{
		RiskTiers: map[string]*domain.Tier{
			"conservative": {CurrentPnl: dec(t, "-0.50")},
		},
		Strategies: map[string]*domain.Strategy{
			"grid": {CurrentPnl: dec(t, "-0.50")},
		},
		ActivePositions: map[string][]domain.Position{},
	}

	tiers, strategies := Compute(dec(t, "39.50"), testTiers(), testStrategies(t), prev, zap.NewNop())

	assert.True(t, tiers["conservative"].CurrentPnl.Equal(dec(t, "-0.50")))
	assert.True(t, tiers["moderate"].CurrentPnl.IsZero())
	assert.True(t, strategies["grid"].CurrentPnl.Equal(dec(t, "-0.50")))
	assert.True(t, strategies["yield"].CurrentPnl.IsZero())
}

func TestCompute_OpenPositionsReduceAvailable(t *testing.T) {
	prev := &domain.Ledger{
		RiskTiers:  map[string]*domain.Tier{},
		Strategies: map[string]*domain.Strategy{},
		ActivePositions: map[string][]domain.Position{
			"grid": {{ID: "p1", Capital: dec(t, "6.00"), OpenTime: time.Now()}},
		},
	}

	_, strategies := Compute(dec(t, "40.00"), testTiers(), testStrategies(t), prev, zap.NewNop())

	grid := strategies["grid"]
	assert.True(t, grid.AllocatedCapital.Equal(dec(t, "7.20")))
	assert.True(t, grid.CapitalInUse.Equal(dec(t, "6.00")))
	// Rebalance never hands out funds that are still locked in positions.
	assert.True(t, grid.AvailableForNewPositions.Equal(dec(t, "1.20")))
}

func TestCompute_InUseAboveAllocationFloorsAvailable(t *testing.T) {
	prev := &domain.Ledger{
		RiskTiers:  map[string]*domain.Tier{},
		Strategies: map[string]*domain.Strategy{},
		ActivePositions: map[string][]domain.Position{
			"grid": {
				{ID: "p1", Capital: dec(t, "6.00")},
				{ID: "p2", Capital: dec(t, "6.00")},
			},
		},
	}

	// Budget collapsed, so the new allocation is below what is locked up.
	_, strategies := Compute(dec(t, "20.00"), testTiers(), testStrategies(t), prev, zap.NewNop())

	grid := strategies["grid"]
	assert.True(t, grid.CapitalInUse.Equal(dec(t, "12.00")))
	assert.True(t, grid.AvailableForNewPositions.IsZero())
}

func TestCompute_Deterministic(t *testing.T) {
	tiersA, strategiesA := Compute(dec(t, "40.00"), testTiers(), testStrategies(t), nil, zap.NewNop())
	tiersB, strategiesB := Compute(dec(t, "40.00"), testTiers(), testStrategies(t), nil, zap.NewNop())

	for name := range tiersA {
		assert.True(t, tiersA[name].TotalCapital.Equal(tiersB[name].TotalCapital))
	}
	for name := range strategiesA {
		assert.True(t, strategiesA[name].AllocatedCapital.Equal(strategiesB[name].AllocatedCapital))
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, "7.20", Round(dec(t, "7.2001")).StringFixed(2))
	assert.Equal(t, "7.21", Round(dec(t, "7.205")).StringFixed(2))
}
