package domain

import (
	"math/big"
	"time"
)

// OrderStatus tracks a recharge order through its lifecycle. Transitions
// move forward only: pending -> confirmed -> credited -> swept.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCredited  OrderStatus = "credited"
	OrderStatusSwept     OrderStatus = "swept"
)

// RechargeOrder is an incoming on-chain transfer to a user's deposit
// address. TxHash is unique and acts as the idempotency key: repeated
// sightings of the same transfer never create a second order.
type RechargeOrder struct {
	ID          int64
	TxHash      string
	UserID      string
	Address     string
	FromAddress string
	Amount      *big.Int // token base units

	BlockNumber   uint64
	Confirmations int

	Status OrderStatus

	DetectedAt  time.Time
	ConfirmedAt *time.Time
	CreditedAt  *time.Time
	SweptAt     *time.Time
}
