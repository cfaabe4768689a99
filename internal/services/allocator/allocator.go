// Package allocator owns the ledger lifecycle. Every mutating operation is a
// strict fetch, recompute-from-fresh-state, compare-and-swap-write loop: on a
// version conflict the whole business mutation is recomputed against freshly
// loaded state, never replayed from a stale in-memory payload.
package allocator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/config"
	"github.com/zipaJopa/capalloc/internal/domain"
	"github.com/zipaJopa/capalloc/internal/services/allocation"
	"github.com/zipaJopa/capalloc/internal/services/breaker"
	"github.com/zipaJopa/capalloc/internal/storage/journal"
	store "github.com/zipaJopa/capalloc/internal/storage/ledger"
)

const defaultMaxAttempts = 3

// dustThreshold rejects grants too small to trade with.
var dustThreshold = decimal.NewFromFloat(0.01)

// ErrUnknownStrategy signals a capital request for a strategy missing from
// configuration. A configuration error, not a risk rejection.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Journal receives the durable audit record of every operation.
type Journal interface {
	Append(event journal.Event) error
}

// Allocator is the stateful budget orchestrator.
type Allocator struct {
	store       store.Store
	journal     Journal
	cfg         config.Config
	limits      breaker.Limits
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithMaxAttempts bounds the compare-and-swap retry loop.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) { a.maxAttempts = n }
}

// New creates an allocator over the given store. The journal may be nil.
func New(cfg config.Config, st store.Store, jrnl Journal, logger *zap.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:   st,
		journal: jrnl,
		cfg:     cfg,
		limits: breaker.Limits{
			FromInitial: cfg.DrawdownFromInitialLimit,
			FromPeak:    cfg.DrawdownFromPeakLimit,
		},
		logger:      logger,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// mutation applies one operation's business logic to a freshly loaded ledger.
// It returns whether the ledger must be persisted.
type mutation func(led *domain.Ledger) (dirty bool, err error)

func (a *Allocator) update(ctx context.Context, mut mutation) (*domain.Ledger, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		led, token, err := a.load(ctx)
		if err != nil {
			return nil, err
		}

		dirty, err := mut(led)
		if err != nil {
			return led, err
		}
		if !dirty {
			return led, nil
		}

		led.LastUpdated = a.now().UTC()
		payload, err := json.MarshalIndent(led, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "encode ledger")
		}

		if _, err := a.store.Save(ctx, payload, token); err != nil {
			if errors.Is(err, store.ErrConflict) {
				a.logger.Warn("ledger version conflict, recomputing against fresh state",
					zap.Int("attempt", attempt+1))
				continue
			}
			return nil, errors.Wrap(err, "persist ledger")
		}
		return led, nil
	}
	return nil, errors.Errorf("ledger save failed after %d version conflicts", a.maxAttempts)
}

// load fetches the ledger, synthesizing genesis state when the store is empty
// and falling back to genesis when the persisted document cannot be parsed.
func (a *Allocator) load(ctx context.Context) (*domain.Ledger, string, error) {
	payload, token, err := a.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Info("no persisted ledger found, synthesizing genesis state")
		return a.genesis(), "", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "load ledger")
	}

	var led domain.Ledger
	if err := json.Unmarshal(payload, &led); err != nil {
		// Data-loss event: accumulated state is abandoned. The token is
		// kept so the next save replaces the corrupt document.
		a.logger.Error("persisted ledger is unparsable, falling back to genesis state",
			zap.Error(err))
		return a.genesis(), token, nil
	}

	led.Normalize(a.cfg.StrategyNames())
	return &led, token, nil
}

func (a *Allocator) genesis() *domain.Ledger {
	led := domain.NewGenesisLedger(a.cfg.InitialBudget, a.cfg.StrategyNames(), a.now())
	led.RiskTiers, led.Strategies = allocation.Compute(
		led.CurrentTotalBudget, a.cfg.RiskTiers, a.cfg.Strategies, nil, a.logger)
	return led
}

// applyBreaker evaluates the circuit breaker and records any status
// transition on the ledger. Returns whether the ledger changed.
func (a *Allocator) applyBreaker(led *domain.Ledger, now time.Time) bool {
	eval := breaker.Evaluate(led, a.limits)

	for _, warning := range eval.TierWarnings {
		a.logger.Warn("tier max loss threshold breached",
			zap.String("tier", warning.Tier),
			zap.String("current_pnl", warning.CurrentPnl.StringFixed(2)),
			zap.String("loss_threshold", warning.LossThreshold.StringFixed(2)))
		a.journalAppend(journal.Event{
			Time:    now,
			Kind:    journal.KindTierWarning,
			Message: warning.String(),
		})
	}

	if !eval.Changed(led.BreakerStatus) {
		return false
	}

	previous := led.BreakerStatus
	led.BreakerStatus = eval.Status

	var msg string
	if eval.Status.Tripped() {
		msg = fmt.Sprintf("CRITICAL: circuit breaker tripped: %s. Halting new capital-intensive trades.", eval.Reason)
		a.logger.Error("circuit breaker tripped",
			zap.String("status", string(eval.Status)),
			zap.String("reason", eval.Reason))
	} else {
		msg = fmt.Sprintf("Circuit breaker status reset to 'active' (was '%s').", previous)
		a.logger.Info("circuit breaker reset",
			zap.String("previous", string(previous)))
	}
	led.LogEvent(now, msg)
	a.journalAppend(journal.Event{
		Time:    now,
		Kind:    journal.KindBreakerChange,
		Message: msg,
	})
	return true
}

// Rebalance recomputes all tier and strategy allocations from the current
// total budget, carrying forward P&L accumulators and open positions, and
// advances the peak budget watermark. Intended to run on a fixed schedule.
func (a *Allocator) Rebalance(ctx context.Context) error {
	_, err := a.update(ctx, func(led *domain.Ledger) (bool, error) {
		now := a.now()
		a.applyBreaker(led, now)
		if led.BreakerStatus.Tripped() {
			a.logger.Warn("rebalancing while circuit breaker is tripped",
				zap.String("status", string(led.BreakerStatus)))
		}

		led.RiskTiers, led.Strategies = allocation.Compute(
			led.CurrentTotalBudget, a.cfg.RiskTiers, a.cfg.Strategies, led, a.logger)

		for name, tier := range led.RiskTiers {
			led.LogEvent(now, fmt.Sprintf("Allocated $%s to risk tier '%s'.",
				tier.TotalCapital.StringFixed(2), name))
		}

		if led.CurrentTotalBudget.GreaterThan(led.PeakTotalBudget) {
			led.PeakTotalBudget = led.CurrentTotalBudget
			led.LogEvent(now, fmt.Sprintf("New peak total budget reached: $%s USDT.",
				led.PeakTotalBudget.StringFixed(2)))
		}

		led.LogEvent(now, "Rebalance complete.")
		a.journalAppend(journal.Event{
			Time:    now,
			Kind:    journal.KindRebalance,
			Amount:  led.CurrentTotalBudget.StringFixed(2),
			Message: fmt.Sprintf("rebalanced against total budget $%s", led.CurrentTotalBudget.StringFixed(2)),
		})
		return true, nil
	})
	return err
}

// RequestCapital grants capital for a new position, clamped by the per-trade
// ceiling and the strategy's available pool. Risk rejections come back as an
// unapproved grant, never as an error.
func (a *Allocator) RequestCapital(ctx context.Context, strategyName string, requested decimal.Decimal, positionID string) (domain.CapitalGrant, error) {
	var grant domain.CapitalGrant

	_, err := a.update(ctx, func(led *domain.Ledger) (bool, error) {
		now := a.now()
		dirty := a.applyBreaker(led, now)

		if led.BreakerStatus.Tripped() {
			msg := fmt.Sprintf("Capital request for '%s' denied. Circuit breaker '%s' is tripped.",
				strategyName, led.BreakerStatus)
			grant = a.deny(led, now, strategyName, positionID, msg)
			return true, nil
		}

		strat, ok := led.Strategies[strategyName]
		if !ok {
			a.logger.Error("capital requested for unconfigured strategy",
				zap.String("strategy", strategyName))
			return false, errors.Wrapf(ErrUnknownStrategy, "strategy %q", strategyName)
		}

		if !strat.RequiresCapital {
			grant = domain.CapitalGrant{
				Approved: true,
				Granted:  decimal.Zero,
				Message:  fmt.Sprintf("Strategy '%s' does not require direct capital. Request acknowledged.", strategyName),
			}
			return dirty, nil
		}

		open := len(led.ActivePositions[strategyName])
		if open >= strat.MaxConcurrentPositions {
			msg := fmt.Sprintf("Strategy '%s' at max concurrent positions (%d/%d). Request denied.",
				strategyName, open, strat.MaxConcurrentPositions)
			grant = a.deny(led, now, strategyName, positionID, msg)
			return true, nil
		}

		if led.FindPosition(strategyName, positionID) >= 0 {
			msg := fmt.Sprintf("Position ID '%s' is already active for strategy '%s'. Request denied.",
				positionID, strategyName)
			grant = a.deny(led, now, strategyName, positionID, msg)
			return true, nil
		}

		granted := allocation.Round(decimal.Min(
			requested, strat.MaxCapitalPerTrade, strat.AvailableForNewPositions))
		if granted.LessThanOrEqual(dustThreshold) {
			msg := fmt.Sprintf("Insufficient available capital ($%s) or request too small for strategy '%s'. Requested: $%s.",
				strat.AvailableForNewPositions.StringFixed(2), strategyName, requested.StringFixed(2))
			grant = a.deny(led, now, strategyName, positionID, msg)
			return true, nil
		}

		strat.AvailableForNewPositions = strat.AvailableForNewPositions.Sub(granted)
		strat.CapitalInUse = strat.CapitalInUse.Add(granted)
		led.ActivePositions[strategyName] = append(led.ActivePositions[strategyName], domain.Position{
			ID:       positionID,
			Capital:  granted,
			OpenTime: now.UTC(),
		})

		msg := fmt.Sprintf("Approved $%s USDT for strategy '%s', position ID '%s'.",
			granted.StringFixed(2), strategyName, positionID)
		led.LogEvent(now, msg)
		a.journalAppend(journal.Event{
			Time:       now,
			Kind:       journal.KindCapitalGrant,
			Strategy:   strategyName,
			PositionID: positionID,
			Amount:     granted.StringFixed(2),
			Message:    msg,
		})
		a.logger.Info("capital granted",
			zap.String("strategy", strategyName),
			zap.String("position_id", positionID),
			zap.String("granted", granted.StringFixed(2)))

		grant = domain.CapitalGrant{Approved: true, Granted: granted, Message: msg}
		return true, nil
	})
	if err != nil {
		return domain.CapitalGrant{}, err
	}
	return grant, nil
}

func (a *Allocator) deny(led *domain.Ledger, now time.Time, strategyName, positionID, msg string) domain.CapitalGrant {
	a.logger.Warn("capital request denied",
		zap.String("strategy", strategyName),
		zap.String("position_id", positionID),
		zap.String("reason", msg))
	led.LogEvent(now, msg)
	a.journalAppend(journal.Event{
		Time:       now,
		Kind:       journal.KindCapitalDenied,
		Strategy:   strategyName,
		PositionID: positionID,
		Message:    msg,
	})
	return domain.CapitalGrant{Approved: false, Granted: decimal.Zero, Message: msg}
}

// ReportTradeClose settles a closed position: returns its capital plus P&L to
// the strategy pool and rolls realized P&L up into the strategy, its
// configured tier, and the total budget. Unknown strategies and unknown
// position ids are tolerated no-ops.
func (a *Allocator) ReportTradeClose(ctx context.Context, strategyName, positionID string, pnl decimal.Decimal) error {
	_, err := a.update(ctx, func(led *domain.Ledger) (bool, error) {
		now := a.now()

		strat, ok := led.Strategies[strategyName]
		if !ok {
			a.logger.Error("trade close reported for unconfigured strategy",
				zap.String("strategy", strategyName),
				zap.String("position_id", positionID))
			return false, nil
		}

		idx := led.FindPosition(strategyName, positionID)
		if idx < 0 {
			a.logger.Warn("trade close reported for unknown position",
				zap.String("strategy", strategyName),
				zap.String("position_id", positionID))
			led.LogEvent(now, fmt.Sprintf("Warning: Position ID '%s' not found for strategy '%s' during close report.",
				positionID, strategyName))
			return true, nil
		}

		positions := led.ActivePositions[strategyName]
		closed := positions[idx]
		led.ActivePositions[strategyName] = append(positions[:idx], positions[idx+1:]...)

		capitalReturned := closed.Capital.Add(pnl)

		strat.CapitalInUse = strat.CapitalInUse.Sub(closed.Capital)
		if strat.CapitalInUse.IsNegative() {
			strat.CapitalInUse = decimal.Zero
		}
		strat.AvailableForNewPositions = strat.AvailableForNewPositions.Add(capitalReturned)
		strat.CurrentPnl = strat.CurrentPnl.Add(pnl)

		led.CurrentTotalBudget = led.CurrentTotalBudget.Add(pnl)
		led.OverallPnl = led.OverallPnl.Add(pnl)

		// Tier attribution resolves through the strategy's configured tier
		// at the point of use.
		if tier, ok := led.RiskTiers[strat.RiskTier]; ok {
			tier.CurrentPnl = tier.CurrentPnl.Add(pnl)
		} else {
			a.logger.Error("strategy tier missing from ledger during close",
				zap.String("strategy", strategyName),
				zap.String("risk_tier", strat.RiskTier))
		}

		msg := fmt.Sprintf("Trade closed for strategy '%s', position '%s'. Original capital: $%s, P&L: $%s. Total budget: $%s USDT.",
			strategyName, positionID, closed.Capital.StringFixed(2), pnl.StringFixed(2),
			led.CurrentTotalBudget.StringFixed(2))
		led.LogEvent(now, msg)
		a.journalAppend(journal.Event{
			Time:       now,
			Kind:       journal.KindTradeClose,
			Strategy:   strategyName,
			PositionID: positionID,
			Amount:     pnl.StringFixed(2),
			Message:    msg,
		})
		a.logger.Info("trade close settled",
			zap.String("strategy", strategyName),
			zap.String("position_id", positionID),
			zap.String("pnl", pnl.StringFixed(2)))

		// Persist a trip immediately when the loss pushes drawdown over a
		// limit, rather than waiting for the next capital request.
		a.applyBreaker(led, now)
		return true, nil
	})
	return err
}

// State returns a read-only deep copy of the current ledger. The store's
// version token is never part of the snapshot.
func (a *Allocator) State(ctx context.Context) (*domain.Ledger, error) {
	led, _, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	return led.Snapshot(), nil
}

func (a *Allocator) journalAppend(event journal.Event) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Append(event); err != nil {
		a.logger.Warn("journal append failed", zap.Error(err))
	}
}
