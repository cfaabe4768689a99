package domain

// BreakerStatus represents the global risk gate over new capital commitments.
type BreakerStatus string

const (
	// BreakerActive means capital requests may be approved.
	BreakerActive BreakerStatus = "active"
	// BreakerInitialDrawdownTripped means the budget fell too far below the genesis budget.
	BreakerInitialDrawdownTripped BreakerStatus = "total_drawdown_initial_tripped"
	// BreakerPeakDrawdownTripped means the budget fell too far below its historical peak.
	BreakerPeakDrawdownTripped BreakerStatus = "total_drawdown_peak_tripped"
)

// Tripped reports whether the status blocks capital-intensive operations.
func (s BreakerStatus) Tripped() bool {
	return s == BreakerInitialDrawdownTripped || s == BreakerPeakDrawdownTripped
}

// Valid reports whether the status is one of the known values.
func (s BreakerStatus) Valid() bool {
	switch s {
	case BreakerActive, BreakerInitialDrawdownTripped, BreakerPeakDrawdownTripped:
		return true
	}
	return false
}
