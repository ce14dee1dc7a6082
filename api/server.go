/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard
  6. RateLimit:  Per-client token bucket on /api

ROUTE GROUPS:
  /api/accounts/*, /api/transfers, /api/entries/*   Ledger
  /api/savings/*, /api/spend-events                  Flexible savings
  /api/fixed/*, /api/interest/quote                  Fixed savings
  /api/accrual/*                                     Daily accrual
  /api/kyc/*                                         Tier limits
  /api/scenarios/*                                   Demo scenarios
  /healthz                                           Liveness
  /metrics                                           Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - ratelimit.go: Per-client limiter
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the outer HTTP surface.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimiter is applied to /api when set.
	RateLimiter *RateLimiter
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// RequestTimeout bounds each API request. Zero means 30s.
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}
		r.Use(middleware.Timeout(timeout))

		// Ledger routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.OpenAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/entries", h.ListEntries)
			r.Get("/{id}/verify", h.VerifyAccount)
		})
		r.Post("/transfers", h.Transfer)
		r.Post("/entries/{id}/reverse", h.ReverseEntry)

		// Flexible savings routes
		r.Route("/savings", func(r chi.Router) {
			r.Post("/activate", h.ActivateSavings)
			r.Post("/deactivate", h.DeactivateSavings)
			r.Post("/deposit", h.DepositSavings)
			r.Post("/withdraw", h.WithdrawSavings)
			r.Get("/{owner}", h.GetSavings)
			r.Put("/{owner}/settings", h.UpdateSavingsSettings)
		})
		r.Post("/spend-events", h.SpendEvent)

		// Fixed savings routes
		r.Post("/interest/quote", h.Quote)
		r.Route("/fixed", func(r chi.Router) {
			r.Get("/", h.ListFixed)
			r.Post("/", h.CreateFixed)
			r.Get("/{id}", h.GetFixed)
			r.Post("/{id}/payout", h.PayOutFixed)
			r.Post("/{id}/renew", h.RenewFixed)
		})

		// Accrual routes
		r.Route("/accrual/runs", func(r chi.Router) {
			r.Post("/", h.RunAccrual)
			r.Get("/{date}", h.ListAccrualRuns)
		})

		// Tier routes
		r.Route("/kyc", func(r chi.Router) {
			r.Post("/eligibility", h.CheckEligibility)
			r.Get("/{owner}/tier", h.GetTier)
			r.Put("/{owner}/tier", h.SetTier)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
