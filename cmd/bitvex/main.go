// Command bitvex runs the exchange core: REST/WebSocket API in front of a
// single-writer matching engine over a GORM-backed store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitvex/bitvex/internal/api"
	"github.com/bitvex/bitvex/internal/config"
	"github.com/bitvex/bitvex/internal/database"
	"github.com/bitvex/bitvex/internal/engine"
	"github.com/bitvex/bitvex/internal/events"
	"github.com/bitvex/bitvex/internal/repository"
	"github.com/bitvex/bitvex/internal/wallet"
	"github.com/bitvex/bitvex/internal/ws"
	"github.com/bitvex/bitvex/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	repo := repository.New(db, log)
	wallets := wallet.NewService(db, log)
	bus := events.NewFanoutBus(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(log)
	go hub.Run(ctx)
	bus.Subscribe(events.TopicOrderBook, hub.HandleEvent)
	bus.Subscribe(events.TopicBalances, hub.HandleEvent)

	var cache api.SnapshotCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, snapshot cache disabled", zap.Error(err))
		} else {
			snapshots := events.NewSnapshotCache(client, log)
			bus.Subscribe(events.TopicOrderBook, snapshots.Handle)
			cache = snapshots
		}
	}

	if cfg.Kafka.Enabled {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer publisher.Close()
		bus.Subscribe(events.TopicOrderBook, publisher.Handle)
		bus.Subscribe(events.TopicBalances, publisher.Handle)
	}

	eng := engine.New(log, repo, bus, engine.Config{
		FiatCurrency:   cfg.Market.FiatCurrency,
		CryptoCurrency: cfg.Market.CryptoCurrency,
		DepthLevels:    cfg.Market.DepthLevels,
		PricePolicy:    cfg.Market.PricePolicy,
		QueueSize:      cfg.Market.QueueSize,
	})
	eng.Start(ctx)

	server := api.NewServer(log, repo, wallets, eng, hub, cache, api.Config{
		DevMode:        cfg.Server.DevMode,
		JWTSecret:      cfg.Auth.JWTSecret,
		FiatCurrency:   cfg.Market.FiatCurrency,
		CryptoCurrency: cfg.Market.CryptoCurrency,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}

	cancel()
	select {
	case <-eng.Done():
	case <-time.After(5 * time.Second):
		log.Warn("engine did not stop in time")
	}

	log.Info("bye")
	return nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return database.NewPostgres(cfg.Database.DSN, cfg.Database.MaxOpen, cfg.Database.MaxIdle)
	case "sqlite", "":
		return database.NewSQLite(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
