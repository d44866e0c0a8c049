// Package models holds the persistent entities and shared value types of the
// exchange core: orders, trades, wallets and order book snapshots.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides
const (
	SideBid = "BID"
	SideAsk = "ASK"
)

// Order statuses. An order leaves OPEN exactly once; the other three states
// are terminal and the order is removed from the in-memory book when reached.
const (
	OrderStatusOpen               = "OPEN"
	OrderStatusFilled             = "FILLED"
	OrderStatusCancelled          = "CANCELLED"
	OrderStatusPartiallyCancelled = "PARTIALLY_CANCELLED"
)

// Order represents a limit order for the traded pair.
type Order struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID       `json:"account_id" gorm:"type:uuid;index;not null"`
	Side      string          `json:"side" gorm:"type:varchar(4);not null"`
	Status    string          `json:"status" gorm:"type:varchar(20);index;not null"`
	Quantity  decimal.Decimal `json:"quantity" gorm:"type:decimal(20,8);not null"`
	Remaining decimal.Decimal `json:"remaining" gorm:"type:decimal(20,8);not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(20,8);not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// Sequence is assigned by the matching engine on acceptance and orders
	// equal-priced entries by arrival. Never persisted.
	Sequence uint64 `json:"-" gorm:"-"`
}

// NewOrder creates an open order with remaining == quantity.
func NewOrder(accountID uuid.UUID, side string, quantity, price decimal.Decimal) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.New(),
		AccountID: accountID,
		Side:      side,
		Status:    OrderStatusOpen,
		Quantity:  quantity,
		Remaining: quantity,
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOpen reports whether the order is still eligible for matching.
func (o *Order) IsOpen() bool { return o.Status == OrderStatusOpen }

// Required returns the balance needed to honor the rest of the order:
// remaining*price in quote currency for a bid, remaining in asset currency
// for an ask.
func (o *Order) Required() decimal.Decimal {
	if o.Side == SideBid {
		return o.Remaining.Mul(o.Price)
	}
	return o.Remaining
}

// Trade records the execution of quantity units between a bid and an ask.
// Immutable once created.
type Trade struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	BidOrderID uuid.UUID       `json:"bid_order_id" gorm:"type:uuid;index;not null"`
	AskOrderID uuid.UUID       `json:"ask_order_id" gorm:"type:uuid;index;not null"`
	Quantity   decimal.Decimal `json:"quantity" gorm:"type:decimal(20,8);not null"`
	Price      decimal.Decimal `json:"price" gorm:"type:decimal(20,8);not null"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewTrade creates a trade between the given resting orders.
func NewTrade(bidOrderID, askOrderID uuid.UUID, quantity, price decimal.Decimal) *Trade {
	return &Trade{
		ID:         uuid.New(),
		BidOrderID: bidOrderID,
		AskOrderID: askOrderID,
		Quantity:   quantity,
		Price:      price,
		CreatedAt:  time.Now().UTC(),
	}
}

// Wallet is the balance of one account in one currency. Amount never goes
// negative; the repository enforces this on every adjustment.
type Wallet struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID       `json:"account_id" gorm:"type:uuid;uniqueIndex:idx_wallet_account_currency;not null"`
	Currency  string          `json:"currency" gorm:"type:varchar(10);uniqueIndex:idx_wallet_account_currency;not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(20,8);not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BookSnapshot is a persisted depth snapshot of both book sides. The
// auto-incremented ID doubles as the monotonically increasing snapshot id
// handed to the event emitter.
type BookSnapshot struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BidsJSON  string    `json:"-" gorm:"type:text;not null"`
	AsksJSON  string    `json:"-" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotInfo is the lightweight listing row for snapshot selection.
type SnapshotInfo struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// DepthRow aggregates the open remaining quantity at one price level.
type DepthRow struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// BalanceUpdate is the post-settlement amount of one wallet, broadcast after
// a processing cycle that executed trades.
type BalanceUpdate struct {
	AccountID uuid.UUID       `json:"account_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
}
