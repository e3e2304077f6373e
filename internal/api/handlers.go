package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/auth"
	"github.com/xtrntr/blockmarket/internal/exchange"
	"github.com/xtrntr/blockmarket/internal/history"
	"github.com/xtrntr/blockmarket/internal/models"
	"github.com/xtrntr/blockmarket/internal/orders"
)

// RestaurantLister lists dining locations
type RestaurantLister interface {
	Restaurants(ctx context.Context) ([]models.Restaurant, error)
}

// PriceHistory serves chart points for a timeframe
type PriceHistory interface {
	Since(timeframe string, now time.Time) ([]history.Point, error)
}

// Idempotency claims request keys so a retried order post is not applied twice
type Idempotency interface {
	SetIdempotency(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseIdempotency(ctx context.Context, key, token string) error
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Orders      *orders.Service
	Exchange    *exchange.Exchange
	Auth        *auth.AuthService
	Directory   RestaurantLister
	History     PriceHistory
	Idempotency Idempotency

	IdempotencyTTL time.Duration
	Logger         *zap.Logger
}

// NewHandler creates a new handler. Directory, History and Idempotency are optional.
func NewHandler(svc *orders.Service, ex *exchange.Exchange, authService *auth.AuthService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Orders:         svc,
		Exchange:       ex,
		Auth:           authService,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "Username already taken")
			return
		}
		h.Logger.Warn("register failed", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusBadRequest, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, user, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "user": user})
}

type createOrderRequest struct {
	Side             models.Side     `json:"side"`
	Kind             models.Kind     `json:"kind"`
	Price            decimal.Decimal `json:"price"`
	Restaurant       string          `json:"restaurant"`
	Items            []string        `json:"items"`
	DeliveryTime     *time.Time      `json:"delivery_time"`
	ExpiresInMinutes int             `json:"expires_in_minutes"`
}

// PlaceOrder posts a bid or an ask
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	release, ok := h.claimIdempotency(w, r, userID)
	if !ok {
		return
	}

	create := orders.CreateRequest{
		UserID:  userID,
		Side:    req.Side,
		Kind:    req.Kind,
		Price:   req.Price,
		Details: models.Details{Restaurant: req.Restaurant, Items: req.Items},
		TTL:     time.Duration(req.ExpiresInMinutes) * time.Minute,
	}
	if req.DeliveryTime != nil {
		create.DeliveryTime = *req.DeliveryTime
	}

	order, err := h.Orders.Create(r.Context(), create)
	if err != nil {
		release()
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// claimIdempotency claims the request's Idempotency-Key. It writes a conflict
// and reports false for a replayed key. The returned func frees the key so a
// failed request can be retried.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, userID int) (func(), bool) {
	noop := func() {}
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.Idempotency == nil {
		return noop, true
	}
	key = strconv.Itoa(userID) + ":" + key
	token := uuid.NewString()

	ok, err := h.Idempotency.SetIdempotency(r.Context(), key, token, h.IdempotencyTTL)
	if err != nil {
		// a cache outage must not block trading
		h.Logger.Warn("idempotency check failed", zap.String("key", key), zap.Error(err))
		return noop, true
	}
	if !ok {
		writeError(w, http.StatusConflict, "Duplicate request")
		return noop, false
	}
	return func() {
		if err := h.Idempotency.ReleaseIdempotency(context.WithoutCancel(r.Context()), key, token); err != nil {
			h.Logger.Warn("release idempotency key failed", zap.String("key", key), zap.Error(err))
		}
	}, true
}

// GetUserOrders lists the caller's orders. The status query selects a tab
// (active, completed, cancelled) or an exact lifecycle status.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	keep, status, err := statusFilter(r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.Orders.UserOrders(r.Context(), userID, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]models.Order, 0, len(list))
	for _, o := range list {
		if keep(o.Status) {
			out = append(out, o)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func statusFilter(tab string) (func(models.Status) bool, models.Status, error) {
	all := func(models.Status) bool { return true }
	switch strings.ToLower(tab) {
	case "":
		return all, "", nil
	case "active":
		return func(s models.Status) bool { return !s.Terminal() }, "", nil
	case "completed":
		return all, models.StatusCompleted, nil
	case "cancelled", "canceled":
		return all, models.StatusCancelled, nil
	}
	status := models.Status(strings.ToUpper(tab))
	if !status.Valid() {
		return nil, "", fmt.Errorf("%w: unknown status %q", models.ErrInvalidOrder, tab)
	}
	return all, status, nil
}

// GetOrder returns one order
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	order, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// settled orders and their proof are private to the two parties
	if !order.Involves(userID) && !order.Open(time.Now()) {
		h.fail(w, r, models.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// AcceptOrder claims an open order for the caller
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	order, err := h.Orders.Accept(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	order, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CompleteOrder marks an accepted order delivered
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req struct {
		Proof string `json:"proof"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	order, err := h.Orders.Complete(r.Context(), chi.URLParam(r, "id"), userID, req.Proof)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// DisputeOrder flags an order for review
func (h *Handler) DisputeOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	order, err := h.Orders.Dispute(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetOrderBook retrieves the current order book
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.Snapshot().Book)
}

// GetPrice returns the current market price and where it came from
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	snap := h.Exchange.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price":      snap.Quote.Price,
		"source":     snap.Quote.Source,
		"updated_at": snap.UpdatedAt,
	})
}

// GetPriceHistory returns chart points for ?timeframe=1D|1W|1M|1Y
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1D"
	}
	if _, ok := history.Timeframes[timeframe]; !ok {
		writeError(w, http.StatusBadRequest, "timeframe must be one of 1D, 1W, 1M, 1Y")
		return
	}
	if h.History == nil {
		writeJSON(w, http.StatusOK, []history.Point{})
		return
	}

	points, err := h.History.Since(timeframe, time.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// GetMarketStats returns the day's high, low, change, volume and active order count
func (h *Handler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	var prices []decimal.Decimal
	if h.History != nil {
		points, err := h.History.Since("1D", time.Now())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, p := range points {
			prices = append(prices, p.Price)
		}
	}

	stats, err := h.Orders.MarketStats(r.Context(), prices)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetRecentTrades returns the latest matched orders, newest first
func (h *Handler) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	trades := h.Exchange.RecentTrades(limit)
	if trades == nil {
		trades = []models.Order{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetRestaurants lists the dining locations
func (h *Handler) GetRestaurants(w http.ResponseWriter, r *http.Request) {
	if h.Directory == nil {
		writeJSON(w, http.StatusOK, []models.Restaurant{})
		return
	}
	restaurants, err := h.Directory.Restaurants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restaurants)
}

// GetProfile returns the caller
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	user, err := h.Auth.Users.GetUser(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile replaces the caller's onboarding preferences
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var p models.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for _, t := range p.AccountTypes {
		if t != models.AccountBuyer && t != models.AccountSeller {
			writeError(w, http.StatusBadRequest, "account types must be 'buyer' or 'seller'")
			return
		}
	}
	if p.MealBlocksLeft < 0 || p.DiningDollarsLeft < 0 {
		writeError(w, http.StatusBadRequest, "balances cannot be negative")
		return
	}
	if p.WalletAddress != "" {
		if !common.IsHexAddress(p.WalletAddress) {
			writeError(w, http.StatusBadRequest, "invalid wallet address")
			return
		}
		p.WalletAddress = common.HexToAddress(p.WalletAddress).Hex()
	}
	if p.AccountTypes == nil {
		p.AccountTypes = []models.AccountType{}
	}

	user, err := h.Auth.Users.UpdateProfile(r.Context(), userID, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
