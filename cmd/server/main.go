package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/api"
	"github.com/xtrntr/blockmarket/internal/auth"
	"github.com/xtrntr/blockmarket/internal/cache"
	"github.com/xtrntr/blockmarket/internal/config"
	"github.com/xtrntr/blockmarket/internal/db"
	"github.com/xtrntr/blockmarket/internal/directory"
	"github.com/xtrntr/blockmarket/internal/exchange"
	"github.com/xtrntr/blockmarket/internal/feed"
	"github.com/xtrntr/blockmarket/internal/history"
	"github.com/xtrntr/blockmarket/internal/logging"
	"github.com/xtrntr/blockmarket/internal/orders"
	"github.com/xtrntr/blockmarket/internal/payments"
)

// Main entry point: wires storage, the exchange engine and the HTTP server
func main() {
	configPath := flag.String("config", "", "path to config file (default $CONFIG_PATH or configs/config.yaml)")
	migration := flag.String("migrate", "migrations/001_init.sql", "schema script applied at startup, empty to skip")
	demo := flag.Bool("demo", false, "keep orders and users in memory instead of Postgres")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo     orders.Repository
		users    auth.UserStore
		listener feed.Listener
	)
	if *demo || cfg.DB.DSN == "" {
		logger.Warn("running in demo mode, orders are kept in memory")
		repo = orders.NewMemoryRepository()
		users = auth.NewMemoryUserStore()
	} else {
		database, err := db.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("db connect failed", zap.Error(err))
		}
		defer database.Close()
		if *migration != "" {
			script, err := os.ReadFile(*migration)
			if err != nil {
				logger.Fatal("read migration failed", zap.String("path", *migration), zap.Error(err))
			}
			if err := database.Migrate(ctx, string(script)); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
		}
		repo, users, listener = database, database, database
	}

	var (
		idempotency api.Idempotency
		dirCache    directory.Cache
	)
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, continuing without idempotency keys", zap.Error(err))
		} else {
			defer client.Close()
			adapter := cache.NewRedisAdapter(client)
			idempotency, dirCache = adapter, adapter
		}
	}

	oracle := exchange.NewOracle(cfg.Market.TradeWindow, cfg.DefaultPrice())
	ex := exchange.NewExchange(repo, oracle, logger.Named("exchange"))
	defer ex.Close()

	var prices *history.Store
	if cfg.History.Path != "" {
		prices, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Fatal("price history open failed", zap.Error(err))
		}
		defer prices.Close()
		if latest, ok, err := prices.Latest(); err != nil {
			logger.Warn("price history read failed", zap.Error(err))
		} else if ok {
			ex.SeedPrice(latest.Price)
			logger.Info("seeded last price", zap.String("price", latest.Price.String()), zap.Time("at", latest.Time))
		}
		ex.OnUpdate(func(s exchange.Snapshot) {
			point := history.Point{Time: s.UpdatedAt, Price: s.Quote.Price, Source: s.Quote.Source}
			if _, err := prices.Track(point); err != nil {
				logger.Warn("price history write failed", zap.Error(err))
			}
		})
	}

	dir := directory.NewClient(cfg.Directory.BaseURL, dirCache, cfg.DirectoryCacheTTL(), logger.Named("directory"))

	svc := orders.NewService(repo, ex, logger.Named("orders"))
	svc.DefaultTTL = cfg.DefaultTTL()
	svc.MaxTTL = cfg.MaxTTL()
	svc.RequireProof = cfg.Market.RequireProof
	svc.Directory = dir
	if cfg.Wallet.PrivateKey != "" {
		payer, err := payments.NewWalletPayer(cfg.Wallet.PrivateKey, cfg.Wallet.TreasuryAddress, cfg.Wallet.RelayURL, logger.Named("payments"))
		if err != nil {
			logger.Fatal("wallet init failed", zap.Error(err))
		}
		svc.Payer = payer
		logger.Info("wallet payments enabled", zap.String("address", payer.Address().Hex()))
	}

	authService := auth.NewAuthService(users, cfg.Auth.JWTSecret, cfg.TokenTTL())

	handler := api.NewHandler(svc, ex, authService, logger.Named("api"))
	handler.Directory = dir
	handler.Idempotency = idempotency
	handler.IdempotencyTTL = cfg.IdempotencyTTL()
	if prices != nil {
		handler.History = prices
	}

	hub := api.NewHub(logger.Named("ws"))
	defer hub.Close()
	ex.OnUpdate(hub.Broadcast)

	var wg sync.WaitGroup
	refresher := feed.NewRefresher(ex, listener, cfg.RefreshInterval(), logger.Named("feed"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		refresher.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, hub, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	wg.Wait()
}
