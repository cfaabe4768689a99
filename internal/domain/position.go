package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a single open capital commitment. It is created when a capital
// request is approved and removed when the trade close is reported.
type Position struct {
	ID       string          `json:"id"`
	Capital  decimal.Decimal `json:"capital_usdt"`
	OpenTime time.Time       `json:"open_time_utc"`
}

// CapitalGrant is the outcome of a capital request. Rejections are normal
// business outcomes communicated through Approved and Message, not errors.
type CapitalGrant struct {
	Approved bool            `json:"approved"`
	Granted  decimal.Decimal `json:"granted_usdt"`
	Message  string          `json:"message"`
}
