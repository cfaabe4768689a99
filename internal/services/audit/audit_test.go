package audit

import (
	"testing"
	"time"

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

func consistentLedger(t *testing.T) *domain.Ledger {
	return &domain.Ledger{
		InitialBudget:      dec(t, "40.00"),
		CurrentTotalBudget: dec(t, "38.50"),
		PeakTotalBudget:    dec(t, "40.00"),
		OverallPnl:         dec(t, "-1.50"),
		BreakerStatus:      domain.BreakerActive,
		RiskTiers:          map[string]*domain.Tier{},
		Strategies: map[string]*domain.Strategy{
			"grid": {
				RiskTier:               "conservative",
				CapitalInUse:           dec(t, "5.00"),
				MaxConcurrentPositions: 2,
			},
		},
		ActivePositions: map[string][]domain.Position{
			"grid": {{ID: "p1", Capital: dec(t, "5.00"), OpenTime: time.Now()}},
		},
	}
}

func TestCheck_CleanLedger(t *testing.T) {
	findings := Check(consistentLedger(t), 0, time.Now())
	assert.Empty(t, findings)
}

func TestCheck_BudgetDrift(t *testing.T) {
	led := consistentLedger(t)
	led.CurrentTotalBudget = dec(t, "39.00")

	findings := Check(led, 0, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, CodeBudgetDrift, findings[0].Code)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
}

func TestCheck_CapitalMismatch(t *testing.T) {
	led := consistentLedger(t)
	led.Strategies["grid"].CapitalInUse = dec(t, "4.00")

	findings := Check(led, 0, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, CodeCapitalMismatch, findings[0].Code)
	assert.Equal(t, "grid", findings[0].Strategy)
}

func TestCheck_NegativeCapitalInUse(t *testing.T) {
	led := consistentLedger(t)
	led.Strategies["grid"].CapitalInUse = dec(t, "-1.00")

	findings := Check(led, 0, time.Now())
	codes := make([]string, 0, len(findings))
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, CodeNegativeCapital)
}

func TestCheck_StalePosition(t *testing.T) {
	led := consistentLedger(t)
	led.ActivePositions["grid"][0].OpenTime = time.Now().Add(-10 * 24 * time.Hour)

	findings := Check(led, 7*24*time.Hour, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, CodeStalePosition, findings[0].Code)
	assert.Contains(t, findings[0].Message, "p1")

	// Age check disabled.
	assert.Empty(t, Check(led, 0, time.Now()))
}

func TestCheck_PositionsOverLimit(t *testing.T) {
	led := consistentLedger(t)
	led.Strategies["grid"].MaxConcurrentPositions = 1
	led.ActivePositions["grid"] = append(led.ActivePositions["grid"],
		domain.Position{ID: "p2", Capital: dec(t, "1.00"), OpenTime: time.Now()})
	led.Strategies["grid"].CapitalInUse = dec(t, "6.00")

	findings := Check(led, 0, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, CodePositionOverLimit, findings[0].Code)
}

func TestCheck_OrphanedPositions(t *testing.T) {
	led := consistentLedger(t)
	led.ActivePositions["ghost"] = []domain.Position{{ID: "p9", Capital: dec(t, "2.00")}}

	findings := Check(led, 0, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, CodeOrphanedPositions, findings[0].Code)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
}
