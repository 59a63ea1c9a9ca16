package domain

import (
	"time"
)

// UserWallet is a user's dedicated deposit address, derived from the
// HD master seed at DerivationIndex. One wallet per user; the row is
// immutable once created except for the scan checkpoint.
type UserWallet struct {
	UserID          string
	DerivationIndex uint32
	Address         string

	// LastScannedBlock is the deposit-scan checkpoint for this address.
	// Persisted so a restart resumes from here, never from process memory.
	LastScannedBlock uint64

	CreatedAt time.Time
}
