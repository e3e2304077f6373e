package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/auth"
	"github.com/xtrntr/blockmarket/internal/config"
	"github.com/xtrntr/blockmarket/internal/db"
	"github.com/xtrntr/blockmarket/internal/logging"
	"github.com/xtrntr/blockmarket/internal/models"
)

const demoPassword = "password123"

// Seed the database with a demo order book
func main() {
	configPath := flag.String("config", "", "path to config file")
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

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer database.Close()

	// First check if we already have trades
	trades, err := database.ListRecentTrades(ctx, 1)
	if err != nil {
		logger.Fatal("failed to check trades", zap.Error(err))
	}
	if len(trades) > 0 {
		logger.Info("database already has trades, no need to seed")
		os.Exit(0)
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.TokenTTL())
	buyer := ensureUser(ctx, logger, authService, "buyer1", models.AccountBuyer)
	seller := ensureUser(ctx, logger, authService, "seller1", models.AccountSeller)

	now := time.Now().UTC()
	ttl := cfg.MaxTTL()

	// resting book
	for _, p := range []string{"8.45", "8.40", "8.35"} {
		create(ctx, logger, database, newOrder(models.SideBuy, buyer.ID, p, now, ttl))
	}
	for _, p := range []string{"8.55", "8.60", "8.65"} {
		create(ctx, logger, database, newOrder(models.SideSell, seller.ID, p, now, ttl))
	}

	// recent trades, oldest first
	for i, p := range []string{"8.40", "8.50", "8.55"} {
		at := now.Add(time.Duration(i-3) * time.Hour)
		o := create(ctx, logger, database, newOrder(models.SideBuy, buyer.ID, p, at, ttl+4*time.Hour))
		if _, err := database.AcceptOrder(ctx, o.ID, seller.ID, at.Add(5*time.Minute)); err != nil {
			logger.Fatal("failed to accept seeded order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	logger.Info("seeded demo market",
		zap.String("buyer", buyer.Username),
		zap.String("seller", seller.Username))
}

func ensureUser(ctx context.Context, logger *zap.Logger, s *auth.AuthService, name string, role models.AccountType) *models.User {
	user, err := s.Users.GetUserByUsername(ctx, name)
	if err != nil {
		user, err = s.Register(ctx, name, demoPassword)
		if err != nil {
			logger.Fatal("failed to create user", zap.String("username", name), zap.Error(err))
		}
	}
	user, err = s.Users.UpdateProfile(ctx, user.ID, models.Profile{
		AccountTypes:      []models.AccountType{role},
		MealBlocksLeft:    10,
		DiningDollarsLeft: 250,
	})
	if err != nil {
		logger.Fatal("failed to update profile", zap.String("username", name), zap.Error(err))
	}
	return user
}

func newOrder(side models.Side, userID int, price string, at time.Time, ttl time.Duration) models.Order {
	o := models.Order{
		ID:             uuid.NewString(),
		Side:           side,
		Status:         models.StatusPending,
		Price:          decimal.RequireFromString(price),
		Details:        models.Details{Items: []string{}},
		OrderTime:      at,
		DeliveryTime:   at,
		ExpirationTime: at.Add(ttl),
		PaymentStatus:  models.PaymentNone,
	}
	if side == models.SideBuy {
		o.BuyerID = userID
		o.Details = models.Details{Restaurant: "Schatz Dining Room", Items: []string{"Lunch special"}}
	} else {
		o.SellerID = userID
	}
	return o
}

func create(ctx context.Context, logger *zap.Logger, database *db.DB, o models.Order) models.Order {
	created, err := database.CreateOrder(ctx, o)
	if err != nil {
		logger.Fatal("failed to create order", zap.String("side", string(o.Side)), zap.Error(err))
	}
	return created
}
