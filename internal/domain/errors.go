package domain

import "errors"

var (
	// ErrInsufficientBalance is an expected business outcome, not a
	// system fault. Callers translate it to a denied outcome.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrChainUnavailable wraps transient RPC failures after retries
	// are exhausted. Never escalates to a balance change.
	ErrChainUnavailable = errors.New("chain rpc unavailable")

	// ErrSweepInFlight suppresses a concurrent sweep attempt for an
	// address that already has a broadcast sweep pending.
	ErrSweepInFlight = errors.New("sweep already in flight")

	// ErrWalletNotFound is returned for lookups of users that never
	// requested a deposit address.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrOrderNotFound is returned when a recharge order lookup misses.
	ErrOrderNotFound = errors.New("recharge order not found")
)
