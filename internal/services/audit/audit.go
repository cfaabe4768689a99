// Package audit reconciles the ledger against its own invariants so the
// operator can detect drift and leaked positions. The engine never times out
// a position; finding one that outlived its strategy is this package's job.
package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zipaJopa/capalloc/internal/domain"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one detected inconsistency.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Strategy string   `json:"strategy,omitempty"`
	Message  string   `json:"message"`
}

// Codes for the checks below.
const (
	CodeBudgetDrift        = "budget_conservation_drift"
	CodeNegativeCapital    = "negative_capital_in_use"
	CodeCapitalMismatch    = "capital_in_use_mismatch"
	CodeStalePosition      = "stale_position"
	CodePositionOverLimit  = "positions_over_limit"
	CodeOrphanedPositions  = "orphaned_positions"
	CodeNegativeTotalFunds = "negative_total_budget"
)

// Check inspects a ledger snapshot. maxAge flags positions open longer than
// the given duration; zero disables the age check.
func Check(led *domain.Ledger, maxAge time.Duration, now time.Time) []Finding {
	var findings []Finding

	expected := led.InitialBudget.Add(led.OverallPnl)
	if !led.CurrentTotalBudget.Equal(expected) {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeBudgetDrift,
			Message: fmt.Sprintf("current total budget $%s does not equal initial $%s plus overall P&L $%s",
				led.CurrentTotalBudget.StringFixed(2), led.InitialBudget.StringFixed(2), led.OverallPnl.StringFixed(2)),
		})
	}

	if led.CurrentTotalBudget.IsNegative() {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeNegativeTotalFunds,
			Message:  fmt.Sprintf("current total budget is negative: $%s", led.CurrentTotalBudget.StringFixed(2)),
		})
	}

	for _, name := range sortedStrategies(led) {
		strat := led.Strategies[name]
		positions := led.ActivePositions[name]

		if strat.CapitalInUse.IsNegative() {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeNegativeCapital,
				Strategy: name,
				Message:  fmt.Sprintf("capital in use is negative: $%s", strat.CapitalInUse.StringFixed(2)),
			})
		}

		openCapital := decimal.Zero
		for _, pos := range positions {
			openCapital = openCapital.Add(pos.Capital)
		}
		if !strat.CapitalInUse.Equal(openCapital) {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     CodeCapitalMismatch,
				Strategy: name,
				Message: fmt.Sprintf("capital in use $%s does not match open position capital $%s",
					strat.CapitalInUse.StringFixed(2), openCapital.StringFixed(2)),
			})
		}

		if len(positions) > strat.MaxConcurrentPositions {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     CodePositionOverLimit,
				Strategy: name,
				Message: fmt.Sprintf("%d active positions exceed the configured limit of %d",
					len(positions), strat.MaxConcurrentPositions),
			})
		}

		if maxAge > 0 {
			for _, pos := range positions {
				age := now.Sub(pos.OpenTime)
				if age > maxAge {
					findings = append(findings, Finding{
						Severity: SeverityWarning,
						Code:     CodeStalePosition,
						Strategy: name,
						Message: fmt.Sprintf("position '%s' ($%s) has been open for %s, longer than %s; it may be leaked",
							pos.ID, pos.Capital.StringFixed(2), age.Round(time.Minute), maxAge),
					})
				}
			}
		}
	}

	// Positions recorded under strategies absent from the ledger cannot be
	// closed through the normal path.
	for name, positions := range led.ActivePositions {
		if _, ok := led.Strategies[name]; ok || len(positions) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeOrphanedPositions,
			Strategy: name,
			Message:  fmt.Sprintf("%d active positions belong to a strategy missing from the ledger", len(positions)),
		})
	}

	return findings
}

func sortedStrategies(led *domain.Ledger) []string {
	names := make([]string, 0, len(led.Strategies))
	for name := range led.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
