// Package events carries the engine's domain events to downstream consumers:
// an in-memory fan-out bus feeding the WebSocket hub, a Kafka publisher for
// durable fan-out and a Redis cache of the latest book snapshot.
package events

import (
	"time"

	"github.com/bitvex/bitvex/internal/models"
)

// Topics the engine publishes on.
const (
	TopicOrderBook = "orderbook"
	TopicBalances  = "balances"
)

// Event types.
const (
	TypeBookUpdated     = "BOOK_UPDATED"
	TypeBalancesChanged = "BALANCES_CHANGED"
)

// Event is the envelope published on the bus.
type Event struct {
	Topic     string      `json:"topic"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// BookUpdate is the payload of a TypeBookUpdated event: the capped depth rows
// of both sides plus the monotonically increasing snapshot id.
type BookUpdate struct {
	SnapshotID uint              `json:"snapshot_id"`
	Bids       []models.DepthRow `json:"bids"`
	Asks       []models.DepthRow `json:"asks"`
	CreatedAt  time.Time         `json:"created_at"`
}

// BalancesChanged is the payload of a TypeBalancesChanged event: the distinct
// wallets touched during one processing cycle, with their new amounts.
type BalancesChanged struct {
	Balances []models.BalanceUpdate `json:"balances"`
}
