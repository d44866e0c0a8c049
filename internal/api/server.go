// Package api exposes the exchange core over HTTP: order submission, book
// snapshot reads, the dev wallet override and the WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bitvex/bitvex/internal/events"
	"github.com/bitvex/bitvex/internal/models"
	"github.com/bitvex/bitvex/internal/wallet"
	"github.com/bitvex/bitvex/internal/ws"
)

// OrderSubmitter hands accepted orders to the matching engine.
type OrderSubmitter interface {
	Submit(ctx context.Context, order *models.Order) error
}

// Store is the read/write surface the API needs from persistence.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	LatestSnapshot(ctx context.Context) (*models.BookSnapshot, error)
	SnapshotByID(ctx context.Context, id uint) (*models.BookSnapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]models.SnapshotInfo, error)
}

// SnapshotCache serves the most recent book update without a database read.
type SnapshotCache interface {
	Latest(ctx context.Context) (*events.BookUpdate, error)
}

// Config carries the API-facing settings.
type Config struct {
	DevMode        bool
	JWTSecret      string
	FiatCurrency   string
	CryptoCurrency string
}

// Server wires the gin router over the core services.
type Server struct {
	logger  *zap.Logger
	store   Store
	wallets *wallet.Service
	engine  OrderSubmitter
	hub     *ws.Hub
	cache   SnapshotCache
	cfg     Config

	router *gin.Engine
}

var registerValidations sync.Once

// NewServer builds the router. cache may be nil when Redis is disabled.
func NewServer(logger *zap.Logger, store Store, wallets *wallet.Service, submitter OrderSubmitter, hub *ws.Hub, cache SnapshotCache, cfg Config) *Server {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidations.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterValidation("positivedecimal", func(fl validator.FieldLevel) bool {
				d, err := decimal.NewFromString(fl.Field().String())
				return err == nil && d.IsPositive()
			})
		}
	})
	s := &Server{
		logger:  logger,
		store:   store,
		wallets: wallets,
		engine:  submitter,
		hub:     hub,
		cache:   cache,
		cfg:     cfg,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the http handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Account-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", func(c *gin.Context) {
		s.hub.Serve(c.Writer, c.Request)
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/orderbook/snapshot", s.getSnapshot)
		v1.GET("/orderbook/snapshots", s.listSnapshots)

		authed := v1.Group("", authMiddleware(s.cfg.JWTSecret))
		{
			authed.POST("/orders", s.createOrder)
			authed.GET("/wallets/:currency", s.getWallet)
			if s.cfg.DevMode {
				authed.POST("/wallets/:currency/amount", s.setWalletAmount)
			}
		}
	}
	return r
}

type createOrderRequest struct {
	Side     string `json:"side" binding:"required,oneof=BID ASK"`
	Quantity string `json:"quantity" binding:"required,positivedecimal"`
	Price    string `json:"price" binding:"required,positivedecimal"`
}

// createOrder validates the request, runs the submission-time funding
// pre-check and enqueues the order. The pre-check is advisory only; the
// engine re-checks funding against its own ledger at matching time.
func (s *Server) createOrder(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive decimal"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a positive decimal"})
		return
	}

	order := models.NewOrder(accountID, req.Side, quantity, price)

	currency := s.cfg.FiatCurrency
	if order.Side == models.SideAsk {
		currency = s.cfg.CryptoCurrency
	}
	available, err := s.wallets.Balance(c.Request.Context(), accountID, currency)
	if err != nil {
		s.logger.Error("funding pre-check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check balance"})
		return
	}
	if available.LessThan(order.Required()) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "insufficient funds",
			"required":  order.Required().String(),
			"available": available.String(),
			"currency":  currency,
		})
		return
	}

	if err := s.store.CreateOrder(c.Request.Context(), order); err != nil {
		s.logger.Error("failed to persist order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}
	if err := s.engine.Submit(c.Request.Context(), order); err != nil {
		s.logger.Error("failed to enqueue order", zap.Error(err), zap.String("order_id", order.ID.String()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}

	c.JSON(http.StatusCreated, order)
}

type snapshotResponse struct {
	ID        uint              `json:"id"`
	Bids      []models.DepthRow `json:"bids"`
	Asks      []models.DepthRow `json:"asks"`
	CreatedAt time.Time         `json:"created_at"`
}

// getSnapshot returns a book snapshot: a specific one when ?id= is given,
// otherwise the latest, preferring the cache over the database.
func (s *Server) getSnapshot(c *gin.Context) {
	if raw := c.Query("id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}
		snapshot, err := s.store.SnapshotByID(c.Request.Context(), uint(id))
		if err != nil {
			s.logger.Error("failed to load snapshot", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
			return
		}
		if snapshot == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		s.renderSnapshot(c, snapshot)
		return
	}

	if s.cache != nil {
		if update, err := s.cache.Latest(c.Request.Context()); err == nil && update != nil {
			c.JSON(http.StatusOK, snapshotResponse{
				ID:        update.SnapshotID,
				Bids:      update.Bids,
				Asks:      update.Asks,
				CreatedAt: update.CreatedAt,
			})
			return
		}
	}

	snapshot, err := s.store.LatestSnapshot(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to load latest snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusOK, snapshotResponse{
			Bids:      []models.DepthRow{},
			Asks:      []models.DepthRow{},
			CreatedAt: time.Now().UTC(),
		})
		return
	}
	s.renderSnapshot(c, snapshot)
}

func (s *Server) renderSnapshot(c *gin.Context, snapshot *models.BookSnapshot) {
	var bids, asks []models.DepthRow
	if err := json.Unmarshal([]byte(snapshot.BidsJSON), &bids); err != nil {
		s.logger.Error("corrupt snapshot payload", zap.Uint("snapshot_id", snapshot.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt snapshot"})
		return
	}
	if err := json.Unmarshal([]byte(snapshot.AsksJSON), &asks); err != nil {
		s.logger.Error("corrupt snapshot payload", zap.Uint("snapshot_id", snapshot.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt snapshot"})
		return
	}
	c.JSON(http.StatusOK, snapshotResponse{
		ID:        snapshot.ID,
		Bids:      bids,
		Asks:      asks,
		CreatedAt: snapshot.CreatedAt,
	})
}

func (s *Server) listSnapshots(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}
	infos, err := s.store.ListSnapshots(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list snapshots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": infos})
}

func (s *Server) getWallet(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	currency := c.Param("currency")
	w, err := s.wallets.GetOrCreate(c.Request.Context(), accountID, currency)
	if err != nil {
		s.logger.Error("failed to load wallet", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, w)
}

type setAmountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// setWalletAmount overwrites a wallet balance. Registered in dev mode only.
func (s *Server) setWalletAmount(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req setAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal"})
		return
	}
	w, err := s.wallets.SetAmount(c.Request.Context(), accountID, c.Param("currency"), amount)
	if err != nil {
		if errors.Is(err, wallet.ErrNegativeAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to set wallet amount", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set amount"})
		return
	}
	c.JSON(http.StatusOK, w)
}
