// Package engine implements the sequential matching core: a single consumer
// goroutine owns the order book and the balance ledger, drains the intake
// queue in FIFO order, runs the crossing loop and emits snapshot and balance
// events after every processed order.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bitvex/bitvex/internal/events"
	"github.com/bitvex/bitvex/internal/models"
	"github.com/bitvex/bitvex/internal/orderbook"
	"github.com/bitvex/bitvex/pkg/metrics"
)

// Execution price policies for a crossing pair. Default is the resting
// bid's price.
const (
	PricePolicyBid = "bid"
	PricePolicyAsk = "ask"
	PricePolicyMid = "mid"
)

// BalanceDelta is one wallet adjustment inside a settlement.
type BalanceDelta struct {
	AccountID uuid.UUID
	Currency  string
	Delta     decimal.Decimal
}

// Store is the persistence boundary of the engine. SettleTrade must apply the
// trade, both order updates and all wallet deltas in a single transaction;
// the engine mutates its in-memory state only after that commit succeeds.
type Store interface {
	BalanceSource
	LoadOpenOrders(ctx context.Context) ([]*models.Order, error)
	LoadBalances(ctx context.Context, accountIDs []uuid.UUID, currency string) (map[uuid.UUID]decimal.Decimal, error)
	SaveOrders(ctx context.Context, orders ...*models.Order) error
	SaveSnapshot(ctx context.Context, snapshot *models.BookSnapshot) error
	SettleTrade(ctx context.Context, trade *models.Trade, bid, ask *models.Order, deltas []BalanceDelta) error
}

// Publisher hands events to downstream consumers without blocking the engine.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Config carries the market parameters of the single traded pair.
type Config struct {
	FiatCurrency   string
	CryptoCurrency string
	DepthLevels    int
	PricePolicy    string
	QueueSize      int
}

func (c *Config) withDefaults() {
	if c.FiatCurrency == "" {
		c.FiatCurrency = "EUR"
	}
	if c.CryptoCurrency == "" {
		c.CryptoCurrency = "BTC"
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = 100
	}
	if c.PricePolicy == "" {
		c.PricePolicy = PricePolicyBid
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Engine is the single-writer matching engine.
type Engine struct {
	logger *zap.Logger
	store  Store
	pub    Publisher
	cfg    Config

	book   *orderbook.Book
	ledger *Ledger
	in     chan *models.Order
	seq    uint64

	done chan struct{}
}

// New creates an engine; call Start to load state and begin consuming.
func New(logger *zap.Logger, store Store, pub Publisher, cfg Config) *Engine {
	cfg.withDefaults()
	return &Engine{
		logger: logger,
		store:  store,
		pub:    pub,
		cfg:    cfg,
		book:   orderbook.New(),
		ledger: NewLedger(store),
		in:     make(chan *models.Order, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start rebuilds the book and ledger from storage and launches the consumer.
// Load failures are logged and the engine proceeds with whatever state was
// recovered; dropping resting liquidity is preferred over refusing to start.
func (e *Engine) Start(ctx context.Context) {
	e.restore(ctx)
	go e.run(ctx)
}

// Done is closed once the consumer goroutine has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Submit enqueues a newly accepted open order. Producers may call it
// concurrently; the intake channel preserves FIFO order.
func (e *Engine) Submit(ctx context.Context, order *models.Order) error {
	select {
	case e.in <- order:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit order %s: %w", order.ID, ctx.Err())
	}
}

func (e *Engine) restore(ctx context.Context) {
	orders, err := e.store.LoadOpenOrders(ctx)
	if err != nil {
		e.logger.Error("failed to load open orders, starting with an empty book", zap.Error(err))
		return
	}

	bidAccounts := make(map[uuid.UUID]struct{})
	askAccounts := make(map[uuid.UUID]struct{})
	for _, o := range orders {
		e.seq++
		o.Sequence = e.seq
		if err := e.book.Insert(o); err != nil {
			e.logger.Warn("skipping persisted order with unknown side",
				zap.String("order_id", o.ID.String()), zap.String("side", o.Side))
			continue
		}
		if o.Side == models.SideBid {
			bidAccounts[o.AccountID] = struct{}{}
		} else {
			askAccounts[o.AccountID] = struct{}{}
		}
	}

	e.seedBalances(ctx, bidAccounts, e.cfg.FiatCurrency)
	e.seedBalances(ctx, askAccounts, e.cfg.CryptoCurrency)
	e.logger.Info("order book restored",
		zap.Int("bids", len(e.book.Bids())),
		zap.Int("asks", len(e.book.Asks())))
}

func (e *Engine) seedBalances(ctx context.Context, accounts map[uuid.UUID]struct{}, currency string) {
	if len(accounts) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	balances, err := e.store.LoadBalances(ctx, ids, currency)
	if err != nil {
		e.logger.Error("failed to seed balances, relying on lazy loads",
			zap.Error(err), zap.String("currency", currency))
		return
	}
	e.ledger.Seed(currency, balances)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	e.logger.Info("matching engine started",
		zap.String("pair", e.cfg.CryptoCurrency+"/"+e.cfg.FiatCurrency),
		zap.String("price_policy", e.cfg.PricePolicy))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("matching engine stopped")
			return
		case order := <-e.in:
			e.process(ctx, order)
		}
	}
}

// process handles exactly one incoming order. Every failure is contained
// here: logged, the order abandoned, the loop moves on.
func (e *Engine) process(ctx context.Context, order *models.Order) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing order",
				zap.Any("recover", r), zap.String("order_id", order.ID.String()))
		}
	}()
	start := time.Now()

	e.seq++
	order.Sequence = e.seq
	if err := e.book.Insert(order); err != nil {
		metrics.OrdersDropped.Inc()
		e.logger.Warn("dropping order with unknown side",
			zap.String("order_id", order.ID.String()), zap.String("side", order.Side))
		return
	}
	metrics.OrdersProcessed.WithLabelValues(order.Side).Inc()

	touched := newTouchedBalances()
	if err := e.match(ctx, touched); err != nil {
		e.logger.Error("crossing halted",
			zap.Error(err), zap.String("order_id", order.ID.String()))
	}
	e.emit(ctx, touched.updates)
	metrics.CrossingLatency.Observe(time.Since(start).Seconds())
}

// match runs the crossing loop until the best prices no longer cross or a
// side empties, recording every wallet adjustment on touched.
func (e *Engine) match(ctx context.Context, touched *touchedBalances) error {
	for {
		bid, ask := e.book.BestBid(), e.book.BestAsk()
		if bid == nil || ask == nil || bid.Price.LessThan(ask.Price) {
			return nil
		}

		fiatAvailable, err := e.ledger.Available(ctx, bid.AccountID, e.cfg.FiatCurrency)
		if err != nil {
			return err
		}
		if fiatAvailable.LessThan(bid.Required()) {
			if err := e.cancelUnderfunded(ctx, models.SideBid, bid.AccountID, fiatAvailable); err != nil {
				return err
			}
			continue
		}

		cryptoAvailable, err := e.ledger.Available(ctx, ask.AccountID, e.cfg.CryptoCurrency)
		if err != nil {
			return err
		}
		if cryptoAvailable.LessThan(ask.Required()) {
			if err := e.cancelUnderfunded(ctx, models.SideAsk, ask.AccountID, cryptoAvailable); err != nil {
				return err
			}
			continue
		}

		if err := e.execute(ctx, bid, ask, touched); err != nil {
			return err
		}
	}
}

// execute settles one trade between the current best pair: durable commit
// first, in-memory mutation only afterwards.
func (e *Engine) execute(ctx context.Context, bid, ask *models.Order, touched *touchedBalances) error {
	now := time.Now().UTC()
	quantity := decimal.Min(bid.Remaining, ask.Remaining)
	price := e.executionPrice(bid, ask)
	quote := quantity.Mul(price)

	bidAfter, askAfter := *bid, *ask
	fill(&bidAfter, quantity, now)
	fill(&askAfter, quantity, now)

	trade := models.NewTrade(bid.ID, ask.ID, quantity, price)
	deltas := []BalanceDelta{
		{AccountID: bid.AccountID, Currency: e.cfg.FiatCurrency, Delta: quote.Neg()},
		{AccountID: bid.AccountID, Currency: e.cfg.CryptoCurrency, Delta: quantity},
		{AccountID: ask.AccountID, Currency: e.cfg.CryptoCurrency, Delta: quantity.Neg()},
		{AccountID: ask.AccountID, Currency: e.cfg.FiatCurrency, Delta: quote},
	}

	// The credit legs usually hit wallets the engine has never read. Pull
	// every touched wallet through the lazy path before settling, so Apply
	// below adjusts the stored amount and not an implicit zero.
	for _, d := range deltas {
		if _, err := e.ledger.Available(ctx, d.AccountID, d.Currency); err != nil {
			return err
		}
	}

	if err := e.store.SettleTrade(ctx, trade, &bidAfter, &askAfter, deltas); err != nil {
		return fmt.Errorf("settle trade %s: %w", trade.ID, err)
	}

	*bid = bidAfter
	*ask = askAfter
	if !bid.IsOpen() {
		e.book.Remove(bid)
	}
	if !ask.IsOpen() {
		e.book.Remove(ask)
	}
	for _, d := range deltas {
		amount := e.ledger.Apply(d.AccountID, d.Currency, d.Delta)
		touched.set(d.AccountID, d.Currency, amount)
	}

	metrics.TradesExecuted.Inc()
	e.logger.Info("trade executed",
		zap.String("trade_id", trade.ID.String()),
		zap.String("bid_order_id", bid.ID.String()),
		zap.String("ask_order_id", ask.ID.String()),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))
	return nil
}

func fill(o *models.Order, quantity decimal.Decimal, now time.Time) {
	o.Remaining = o.Remaining.Sub(quantity)
	o.UpdatedAt = now
	if o.Remaining.LessThanOrEqual(decimal.Zero) {
		o.Status = models.OrderStatusFilled
	}
}

func (e *Engine) executionPrice(bid, ask *models.Order) decimal.Decimal {
	switch e.cfg.PricePolicy {
	case PricePolicyAsk:
		return ask.Price
	case PricePolicyMid:
		return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
	default:
		return bid.Price
	}
}

// cancelUnderfunded force-cancels every open order of the account on the
// given side whose remaining requirement exceeds the available balance,
// including the best one that failed the funding check. Persisted first,
// removed from the book on success.
func (e *Engine) cancelUnderfunded(ctx context.Context, side string, accountID uuid.UUID, available decimal.Decimal) error {
	orders := e.book.Bids()
	if side == models.SideAsk {
		orders = e.book.Asks()
	}
	var affected []*models.Order
	for _, o := range orders {
		if o.AccountID == accountID && available.LessThan(o.Required()) {
			affected = append(affected, o)
		}
	}

	now := time.Now().UTC()
	updated := make([]*models.Order, len(affected))
	for i, o := range affected {
		cp := *o
		cp.Status = models.OrderStatusCancelled
		if cp.Remaining.LessThan(cp.Quantity) {
			cp.Status = models.OrderStatusPartiallyCancelled
		}
		cp.UpdatedAt = now
		updated[i] = &cp
	}
	if err := e.store.SaveOrders(ctx, updated...); err != nil {
		return fmt.Errorf("persist forced cancellations for account %s: %w", accountID, err)
	}

	for i, o := range affected {
		*o = *updated[i]
		e.book.Remove(o)
	}
	metrics.ForcedCancellations.WithLabelValues(side).Add(float64(len(affected)))
	e.logger.Info("force-cancelled underfunded orders",
		zap.String("account_id", accountID.String()),
		zap.String("side", side),
		zap.Int("count", len(affected)),
		zap.String("available", available.String()))
	return nil
}

// touchedBalances collects the wallets adjusted during one processing cycle,
// deduplicated by wallet but keeping first-touch order for the broadcast.
type touchedBalances struct {
	updates []models.BalanceUpdate
	idx     map[balanceKey]int
}

func newTouchedBalances() *touchedBalances {
	return &touchedBalances{idx: make(map[balanceKey]int)}
}

func (t *touchedBalances) set(accountID uuid.UUID, currency string, amount decimal.Decimal) {
	key := balanceKey{accountID, currency}
	if i, ok := t.idx[key]; ok {
		t.updates[i].Amount = amount
		return
	}
	t.idx[key] = len(t.updates)
	t.updates = append(t.updates, models.BalanceUpdate{
		AccountID: accountID,
		Currency:  currency,
		Amount:    amount,
	})
}

// emit persists a depth snapshot and publishes it, plus the balances touched
// during the cycle. The balance broadcast reflects durably settled trades and
// does not depend on the snapshot pipeline succeeding.
func (e *Engine) emit(ctx context.Context, balances []models.BalanceUpdate) {
	now := time.Now().UTC()
	e.publishBook(ctx, now)

	if len(balances) > 0 {
		e.pub.Publish(ctx, events.Event{
			Topic:     events.TopicBalances,
			Type:      events.TypeBalancesChanged,
			Timestamp: now,
			Payload:   events.BalancesChanged{Balances: balances},
		})
	}
}

func (e *Engine) publishBook(ctx context.Context, now time.Time) {
	bids := orderbook.DepthRows(e.book.Bids(), e.cfg.DepthLevels)
	asks := orderbook.DepthRows(e.book.Asks(), e.cfg.DepthLevels)
	metrics.SnapshotDepth.WithLabelValues(models.SideBid).Set(float64(len(bids)))
	metrics.SnapshotDepth.WithLabelValues(models.SideAsk).Set(float64(len(asks)))

	bidsJSON, err := json.Marshal(bids)
	if err != nil {
		e.logger.Error("failed to encode depth rows", zap.Error(err))
		return
	}
	asksJSON, err := json.Marshal(asks)
	if err != nil {
		e.logger.Error("failed to encode depth rows", zap.Error(err))
		return
	}

	snapshot := &models.BookSnapshot{
		BidsJSON:  string(bidsJSON),
		AsksJSON:  string(asksJSON),
		CreatedAt: now,
	}
	if err := e.store.SaveSnapshot(ctx, snapshot); err != nil {
		e.logger.Error("failed to persist book snapshot", zap.Error(err))
		return
	}

	e.pub.Publish(ctx, events.Event{
		Topic:     events.TopicOrderBook,
		Type:      events.TypeBookUpdated,
		Timestamp: now,
		Payload: events.BookUpdate{
			SnapshotID: snapshot.ID,
			Bids:       bids,
			Asks:       asks,
			CreatedAt:  now,
		},
	})
}
