package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the public and authenticated endpoints
func NewRouter(h *Handler, hub *Hub, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if hub != nil {
		r.Get("/ws", hub.HandleWebSocket(h.Exchange))
	}

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/orderbook", h.GetOrderBook)
	r.Get("/price", h.GetPrice)
	r.Get("/price/history", h.GetPriceHistory)
	r.Get("/trades", h.GetRecentTrades)
	r.Get("/market/stats", h.GetMarketStats)
	r.Get("/restaurants", h.GetRestaurants)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/accept", h.AcceptOrder)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Post("/orders/{id}/complete", h.CompleteOrder)
		r.Post("/orders/{id}/dispute", h.DisputeOrder)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
	})

	return r
}
