package domain

import (
	"math/big"
	"time"
)

// SweepStatus tracks an outbound sweep transaction.
type SweepStatus string

const (
	SweepStatusBroadcast SweepStatus = "broadcast"
	SweepStatusConfirmed SweepStatus = "confirmed"
	SweepStatusFailed    SweepStatus = "failed"
)

// Sweep is a broadcast transfer draining a deposit address into the
// cold wallet. A sweep in status broadcast blocks further sweep
// attempts for the same address; on restart it is resumed from this
// record, never re-signed.
type Sweep struct {
	ID      int64
	Address string
	Amount  *big.Int
	TxHash  string

	Status    SweepStatus
	Attempts  int
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}
