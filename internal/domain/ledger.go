package domain

import (
	"math/big"
	"time"
)

// BalanceInfo is the read model behind the /balance surface: current
// balance plus lifetime totals. Invariant: Balance equals
// TotalRecharged - TotalSpent and is never negative.
type BalanceInfo struct {
	UserID         string
	Balance        *big.Int
	TotalRecharged *big.Int
	TotalSpent     *big.Int
}

// SpendRecord is the append-only audit entry written for every debit.
type SpendRecord struct {
	ID        string // UUID
	UserID    string
	Amount    *big.Int
	Reason    string
	CreatedAt time.Time
}

// DailyUsage counts free-tier consumption of one feature on one
// calendar day. Rows are scoped by date, never reset in place.
type DailyUsage struct {
	UserID  string
	Date    string // YYYY-MM-DD
	Feature string
	Count   int
}

// Outcome is the result of a metered-action check.
type Outcome string

const (
	OutcomeAllowedFree Outcome = "allowed_free"
	OutcomeAllowedPaid Outcome = "allowed_paid"
	OutcomeDenied      Outcome = "denied"
)
