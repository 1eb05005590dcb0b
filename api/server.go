/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Structured request log (slog)
  4. Metrics:    Request duration histogram by route pattern
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/credits/*        Credit ledger
  /api/credit-links/*   Application reversal
  /api/customers/*      Per-customer credit listing
  /api/charges/*        Charges, tours, payments, installment plans
  /api/payments/*       Payment edits
  /api/installments/*   Installment payment and due scan
  /api/bills/*          Bills and recurrence
  /healthz              Liveness and store reachability
  /metrics              Prometheus exposition

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/trip-ledger/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recordDuration)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Credit routes
		r.Route("/credits", func(r chi.Router) {
			r.Post("/", h.IssueCredit)
			r.Get("/{id}", h.GetCredit)
			r.Get("/{id}/entries", h.GetCreditEntries)
			r.Get("/{id}/links", h.GetCreditLinks)
			r.Get("/{id}/verify", h.VerifyCredit)
			r.Post("/{id}/preview", h.PreviewCredit)
			r.Post("/{id}/apply", h.ApplyCredit)
			r.Post("/{id}/refund", h.RefundCredit)
			r.Post("/{id}/adjust", h.AdjustCredit)
		})
		r.Post("/credit-links/{id}/reverse", h.ReverseCreditLink)
		r.Get("/customers/{id}/credits", h.ListCustomerCredits)
		r.Post("/calculator", h.Calculate)

		// Charge routes
		r.Route("/charges", func(r chi.Router) {
			r.Post("/", h.CreateCharge)
			r.Get("/{id}", h.GetCharge)
			r.Get("/{id}/breakdown", h.GetBreakdown)
			r.Post("/{id}/cancel", h.CancelCharge)
			r.Get("/{id}/tours", h.ListTours)
			r.Post("/{id}/tours", h.AddTour)
			r.Delete("/{id}/tours/{selectionID}", h.RemoveTour)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Put("/{id}/installments", h.SetPlan)
			r.Get("/{id}/installments", h.GetPlan)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Put("/{id}", h.UpdatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Post("/scan", h.ScanInstallments)
			r.Post("/{id}/pay", h.PayInstallment)
		})

		// Bill routes
		r.Route("/bills", func(r chi.Router) {
			r.Post("/", h.CreateBill)
			r.Get("/", h.ListBills)
			r.Get("/{id}", h.GetBill)
			r.Post("/{id}/pay", h.PayBill)
			r.Post("/{id}/regenerate", h.RegenerateBill)
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote", r.RemoteAddr),
			)
		})
	}
}

// recordDuration observes request latency labelled by route pattern, so
// /api/credits/{id} is one series regardless of id.
func recordDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.HTTPDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
