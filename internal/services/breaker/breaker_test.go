package breaker

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipaJopa/capalloc/internal/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func ledgerWith(t *testing.T, initial, current, peak string) *domain.Ledger {
	return &domain.Ledger{
		InitialBudget:      dec(t, initial),
		CurrentTotalBudget: dec(t, current),
		PeakTotalBudget:    dec(t, peak),
		BreakerStatus:      domain.BreakerActive,
		RiskTiers:          map[string]*domain.Tier{},
	}
}

func TestEvaluate_Active(t *testing.T) {
	eval := Evaluate(ledgerWith(t, "40.00", "38.00", "40.00"), DefaultLimits())
	assert.Equal(t, domain.BreakerActive, eval.Status)
	assert.Empty(t, eval.TierWarnings)
}

func TestEvaluate_DrawdownFromInitialTrips(t *testing.T) {
	// 30% down exactly: 40.00 -> 28.00.
	eval := Evaluate(ledgerWith(t, "40.00", "28.00", "40.00"), DefaultLimits())
	assert.Equal(t, domain.BreakerInitialDrawdownTripped, eval.Status)
	assert.Contains(t, eval.Reason, "initial")
}

func TestEvaluate_DrawdownFromPeakRequiresProfit(t *testing.T) {
	// Peak equals initial: the peak rule never applies before the ledger has
	// been profitable, even at 20%+ drawdown from it.
	eval := Evaluate(ledgerWith(t, "40.00", "31.00", "40.00"), DefaultLimits())
	assert.Equal(t, domain.BreakerActive, eval.Status)

	// With a genuine peak above initial the same budget trips the peak rule:
	// (50 - 31) / 50 = 38%.
	eval = Evaluate(ledgerWith(t, "40.00", "31.00", "50.00"), DefaultLimits())
	assert.Equal(t, domain.BreakerPeakDrawdownTripped, eval.Status)
	assert.Contains(t, eval.Reason, "peak")
}

func TestEvaluate_InitialTakesPrecedenceOverPeak(t *testing.T) {
	// Both rules hold; the initial-drawdown verdict wins.
	eval := Evaluate(ledgerWith(t, "40.00", "20.00", "50.00"), DefaultLimits())
	assert.Equal(t, domain.BreakerInitialDrawdownTripped, eval.Status)
}

func TestEvaluate_TierWarningsDoNotChangeStatus(t *testing.T) {
	led := ledgerWith(t, "40.00", "39.00", "40.00")
	led.RiskTiers["aggressive"] = &domain.Tier{
		CurrentPnl:       dec(t, "-3.00"),
		MaxLossThreshold: dec(t, "3.00"),
	}
	led.RiskTiers["conservative"] = &domain.Tier{
		CurrentPnl:       dec(t, "-0.10"),
		MaxLossThreshold: dec(t, "1.20"),
	}

	eval := Evaluate(led, DefaultLimits())
	assert.Equal(t, domain.BreakerActive, eval.Status)
	require.Len(t, eval.TierWarnings, 1)
	assert.Equal(t, "aggressive", eval.TierWarnings[0].Tier)
}

func TestEvaluate_AutoReset(t *testing.T) {
	led := ledgerWith(t, "40.00", "39.00", "40.00")
	led.BreakerStatus = domain.BreakerInitialDrawdownTripped

	eval := Evaluate(led, DefaultLimits())
	assert.Equal(t, domain.BreakerActive, eval.Status)
	assert.True(t, eval.Changed(led.BreakerStatus))
}

func TestEvaluate_CustomLimits(t *testing.T) {
	limits := Limits{FromInitial: 0.10, FromPeak: 0.05}

	eval := Evaluate(ledgerWith(t, "40.00", "36.00", "40.00"), limits)
	assert.Equal(t, domain.BreakerInitialDrawdownTripped, eval.Status)

	eval = Evaluate(ledgerWith(t, "40.00", "38.00", "40.10"), limits)
	assert.Equal(t, domain.BreakerPeakDrawdownTripped, eval.Status)
}
