package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventLogCap bounds the in-document audit trail. Older entries are evicted
// first; the durable history lives in the operation journal.
const EventLogCap = 100

// Ledger is the single persisted budget document. All mutation happens on an
// in-memory copy inside one operation's load/compute/save cycle; the store's
// version token is carried outside the document and never serialized here.
type Ledger struct {
	LastUpdated        time.Time             `json:"last_updated_utc"`
	InitialBudget      decimal.Decimal       `json:"initial_budget_usdt"`
	CurrentTotalBudget decimal.Decimal       `json:"current_total_budget_usdt"`
	PeakTotalBudget    decimal.Decimal       `json:"peak_total_budget_usdt"`
	OverallPnl         decimal.Decimal       `json:"overall_pnl_usdt"`
	RiskTiers          map[string]*Tier      `json:"risk_tiers"`
	Strategies         map[string]*Strategy  `json:"strategies"`
	ActivePositions    map[string][]Position `json:"active_positions_by_strategy"`
	BreakerStatus      BreakerStatus         `json:"circuit_breaker_status"`
	Events             []string              `json:"log"`
}

// NewGenesisLedger seeds a fresh document with the initial budget and zeroed
// accumulators. Allocations are computed separately by the allocation engine.
func NewGenesisLedger(initialBudget decimal.Decimal, strategyNames []string, now time.Time) *Ledger {
	positions := make(map[string][]Position, len(strategyNames))
	for _, name := range strategyNames {
		positions[name] = []Position{}
	}

	return &Ledger{
		LastUpdated:        now.UTC(),
		InitialBudget:      initialBudget,
		CurrentTotalBudget: initialBudget,
		PeakTotalBudget:    initialBudget,
		OverallPnl:         decimal.Zero,
		RiskTiers:          map[string]*Tier{},
		Strategies:         map[string]*Strategy{},
		ActivePositions:    positions,
		BreakerStatus:      BreakerActive,
		Events:             []string{fmt.Sprintf("Initialized with budget: $%s USDT", initialBudget.StringFixed(2))},
	}
}

// LogEvent appends a timestamped entry to the bounded in-document audit trail.
func (l *Ledger) LogEvent(now time.Time, message string) {
	l.Events = append(l.Events, fmt.Sprintf("%s - %s", now.UTC().Format(time.RFC3339), message))
	if len(l.Events) > EventLogCap {
		l.Events = l.Events[len(l.Events)-EventLogCap:]
	}
}

// Normalize backfills fields a freshly synthesized document would carry but an
// older persisted one may lack. Forward-compatible schema migration on load.
func (l *Ledger) Normalize(strategyNames []string) {
	if l.RiskTiers == nil {
		l.RiskTiers = map[string]*Tier{}
	}
	if l.Strategies == nil {
		l.Strategies = map[string]*Strategy{}
	}
	if l.ActivePositions == nil {
		l.ActivePositions = map[string][]Position{}
	}
	for _, name := range strategyNames {
		if _, ok := l.ActivePositions[name]; !ok {
			l.ActivePositions[name] = []Position{}
		}
	}
	if !l.BreakerStatus.Valid() {
		l.BreakerStatus = BreakerActive
	}
	if l.PeakTotalBudget.LessThan(l.CurrentTotalBudget) {
		l.PeakTotalBudget = l.CurrentTotalBudget
	}
	if l.Events == nil {
		l.Events = []string{}
	}
}

// Snapshot returns a deep copy safe to hand to dashboards and API callers.
func (l *Ledger) Snapshot() *Ledger {
	cp := *l

	cp.RiskTiers = make(map[string]*Tier, len(l.RiskTiers))
	for name, tier := range l.RiskTiers {
		t := *tier
		cp.RiskTiers[name] = &t
	}

	cp.Strategies = make(map[string]*Strategy, len(l.Strategies))
	for name, strat := range l.Strategies {
		s := *strat
		cp.Strategies[name] = &s
	}

	cp.ActivePositions = make(map[string][]Position, len(l.ActivePositions))
	for name, positions := range l.ActivePositions {
		cp.ActivePositions[name] = append([]Position(nil), positions...)
	}

	cp.Events = append([]string(nil), l.Events...)
	return &cp
}

// FindPosition returns the index of the position with the given id within the
// strategy's active set, or -1 when absent.
func (l *Ledger) FindPosition(strategy, positionID string) int {
	for i, pos := range l.ActivePositions[strategy] {
		if pos.ID == positionID {
			return i
		}
	}
	return -1
}
