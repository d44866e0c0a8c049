// Package repository is the GORM-backed persistence layer. It implements the
// engine's Store boundary and the read paths used by the API.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitvex/bitvex/internal/engine"
	"github.com/bitvex/bitvex/internal/models"
)

// ErrNegativeBalance aborts any settlement or adjustment that would drive a
// wallet amount below zero.
var ErrNegativeBalance = errors.New("repository: wallet amount would go negative")

// Repository bundles all database operations of the exchange core.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a repository over an already-migrated database.
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// CreateOrder persists a freshly submitted open order.
func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	return nil
}

// LoadOpenOrders returns every open order, oldest first, for book rebuild.
func (r *Repository) LoadOpenOrders(ctx context.Context) ([]*models.Order, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", models.OrderStatusOpen).
		Order("created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	return orders, nil
}

// LoadBalances returns the wallet amounts of the given accounts in one
// currency. Accounts without a wallet row are simply absent from the map.
func (r *Repository) LoadBalances(ctx context.Context, accountIDs []uuid.UUID, currency string) (map[uuid.UUID]decimal.Decimal, error) {
	var wallets []models.Wallet
	err := r.db.WithContext(ctx).
		Where("account_id IN ? AND currency = ?", accountIDs, currency).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("load balances for %s: %w", currency, err)
	}
	balances := make(map[uuid.UUID]decimal.Decimal, len(wallets))
	for _, w := range wallets {
		balances[w.AccountID] = w.Amount
	}
	return balances, nil
}

// GetOrCreateBalance returns the wallet amount, creating the row at zero when
// missing. This is the ledger's lazy-load path.
func (r *Repository) GetOrCreateBalance(ctx context.Context, accountID uuid.UUID, currency string) (decimal.Decimal, error) {
	wallet, err := getOrCreateWallet(r.db.WithContext(ctx), accountID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Amount, nil
}

// SaveOrders persists order status transitions in one transaction.
func (r *Repository) SaveOrders(ctx context.Context, orders ...*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range orders {
			if err := tx.Save(o).Error; err != nil {
				return fmt.Errorf("save order %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// SaveSnapshot persists a depth snapshot; the auto-increment primary key
// becomes the monotonically increasing snapshot id.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot *models.BookSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// SettleTrade applies a full crossing cycle durably and atomically: the trade
// row, both order updates and all wallet deltas commit together or not at
// all. The engine relies on this to keep in-memory and durable state aligned.
func (r *Repository) SettleTrade(ctx context.Context, trade *models.Trade, bid, ask *models.Order, deltas []engine.BalanceDelta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("create trade %s: %w", trade.ID, err)
		}
		if err := tx.Save(bid).Error; err != nil {
			return fmt.Errorf("save bid order %s: %w", bid.ID, err)
		}
		if err := tx.Save(ask).Error; err != nil {
			return fmt.Errorf("save ask order %s: %w", ask.ID, err)
		}
		now := time.Now().UTC()
		for _, d := range deltas {
			wallet, err := getOrCreateWallet(tx, d.AccountID, d.Currency)
			if err != nil {
				return err
			}
			amount := wallet.Amount.Add(d.Delta)
			if amount.IsNegative() {
				return fmt.Errorf("adjust wallet %s/%s by %s: %w",
					d.AccountID, d.Currency, d.Delta, ErrNegativeBalance)
			}
			err = tx.Model(&models.Wallet{}).
				Where("id = ?", wallet.ID).
				Updates(map[string]interface{}{"amount": amount, "updated_at": now}).Error
			if err != nil {
				return fmt.Errorf("update wallet %s/%s: %w", d.AccountID, d.Currency, err)
			}
		}
		return nil
	})
}

// LatestSnapshot returns the most recent book snapshot, or nil when the book
// has never been snapshotted.
func (r *Repository) LatestSnapshot(ctx context.Context) (*models.BookSnapshot, error) {
	var snapshot models.BookSnapshot
	err := r.db.WithContext(ctx).Order("id desc").First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	return &snapshot, nil
}

// SnapshotByID returns one historical snapshot, or nil when absent.
func (r *Repository) SnapshotByID(ctx context.Context, id uint) (*models.BookSnapshot, error) {
	var snapshot models.BookSnapshot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", id, err)
	}
	return &snapshot, nil
}

// ListSnapshots returns the id/created-at selection table, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, limit int) ([]models.SnapshotInfo, error) {
	var infos []models.SnapshotInfo
	err := r.db.WithContext(ctx).
		Model(&models.BookSnapshot{}).
		Select("id", "created_at").
		Order("id desc").
		Limit(limit).
		Find(&infos).Error
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return infos, nil
}

func getOrCreateWallet(tx *gorm.DB, accountID uuid.UUID, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := tx.Where("account_id = ? AND currency = ?", accountID, currency).
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
