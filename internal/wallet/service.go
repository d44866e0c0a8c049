// Package wallet provides account wallet operations used outside the
// matching engine: the submission-time funding pre-check and the dev-only
// balance override. All trade-driven mutation goes through the repository's
// settlement transaction instead.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitvex/bitvex/internal/models"
)

// ErrNegativeAmount rejects attempts to set a wallet below zero.
var ErrNegativeAmount = errors.New("wallet: amount must not be negative")

// Service exposes wallet reads and dev-time writes.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a wallet service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// GetOrCreate returns the wallet of (account, currency), creating it at zero
// on first reference.
func (s *Service) GetOrCreate(ctx context.Context, accountID uuid.UUID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND currency = ?", accountID, currency).
		Attrs(models.Wallet{
			ID:        uuid.New(),
			AccountID: accountID,
			Currency:  currency,
			Amount:    decimal.Zero,
		}).
		FirstOrCreate(&wallet).Error
	if err != nil {
		return nil, fmt.Errorf("get or create wallet %s/%s: %w", accountID, currency, err)
	}
	return &wallet, nil
}

// Balance returns the point-in-time amount of a wallet, zero for a wallet
// that did not exist before the call.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID, currency string) (decimal.Decimal, error) {
	wallet, err := s.GetOrCreate(ctx, accountID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Amount, nil
}

// SetAmount overwrites a wallet's balance. Exposed on the dev API only.
//
// The matching engine caches wallet amounts in its own ledger once it has
// read them; an override is picked up by matching only for wallets the
// engine has not cached yet, or after a restart.
func (s *Service) SetAmount(ctx context.Context, accountID uuid.UUID, currency string, amount decimal.Decimal) (*models.Wallet, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	wallet, err := s.GetOrCreate(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}
	wallet.Amount = amount
	wallet.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(wallet).Error; err != nil {
		return nil, fmt.Errorf("set wallet %s/%s: %w", accountID, currency, err)
	}
	s.logger.Info("wallet amount overridden",
		zap.String("account_id", accountID.String()),
		zap.String("currency", currency),
		zap.String("amount", amount.String()))
	return wallet, nil
}
