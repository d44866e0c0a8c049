package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceSource loads wallet amounts on demand, creating the wallet row at
// zero when it does not exist yet.
type BalanceSource interface {
	GetOrCreateBalance(ctx context.Context, accountID uuid.UUID, currency string) (decimal.Decimal, error)
}

type balanceKey struct {
	accountID uuid.UUID
	currency  string
}

// Ledger is the engine's in-memory view of available balances. It is seeded
// once from the accounts owning open orders and thereafter lazily loads every
// missing entry through the wallet store, so an account submitting its first
// order is never mistaken for a zero balance. Only the matching engine writes
// to it.
type Ledger struct {
	source   BalanceSource
	balances map[balanceKey]decimal.Decimal
}

// NewLedger creates an empty ledger backed by the given source.
func NewLedger(source BalanceSource) *Ledger {
	return &Ledger{
		source:   source,
		balances: make(map[balanceKey]decimal.Decimal),
	}
}

// Seed installs a batch of balances for one currency.
func (l *Ledger) Seed(currency string, amounts map[uuid.UUID]decimal.Decimal) {
	for accountID, amount := range amounts {
		l.balances[balanceKey{accountID, currency}] = amount
	}
}

// Available returns the cached balance, falling through to the wallet store
// on a miss. An absent wallet row comes back as zero.
func (l *Ledger) Available(ctx context.Context, accountID uuid.UUID, currency string) (decimal.Decimal, error) {
	key := balanceKey{accountID, currency}
	if amount, ok := l.balances[key]; ok {
		return amount, nil
	}
	amount, err := l.source.GetOrCreateBalance(ctx, accountID, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load balance %s/%s: %w", accountID, currency, err)
	}
	l.balances[key] = amount
	return amount, nil
}

// Apply adds delta to the cached balance and returns the new amount. Callers
// must have verified funding first; the repository additionally refuses any
// adjustment that would go negative.
func (l *Ledger) Apply(accountID uuid.UUID, currency string, delta decimal.Decimal) decimal.Decimal {
	key := balanceKey{accountID, currency}
	amount := l.balances[key].Add(delta)
	l.balances[key] = amount
	return amount
}
