/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request log carrying the request id
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

SECURITY NOTE:
  Tenant identity comes from the X-Org-Id header and is trusted as given.
  Authentication belongs in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - scheduler.go: Background reminder sweep
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tenantHeader, actorHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/orgs", func(r chi.Router) {
			r.Post("/", h.CreateOrganization)
			r.Get("/{orgID}", h.GetOrganization)
		})

		r.Post("/contacts", h.CreateContact)

		r.Route("/bank-accounts", func(r chi.Router) {
			r.Get("/", h.ListBankAccounts)
			r.Post("/", h.CreateBankAccount)
			r.Put("/{id}", h.UpdateBankAccount)
			r.Delete("/{id}", h.DeleteBankAccount)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", h.GetInvoice)
				r.Post("/view", h.MarkViewed)
				r.Post("/confirm", h.ConfirmPayment)
				r.Post("/verify", h.VerifyPayment)
				r.Post("/cancel", h.CancelInvoice)
				r.Post("/void", h.VoidInvoice)
				r.Get("/payment-status", h.GetPaymentStatus)
				r.Get("/claims", h.ListInvoiceClaims)
				r.Post("/claims", h.CreateClaim)
			})
		})

		r.Route("/claims", func(r chi.Router) {
			r.Get("/pending", h.ListPendingClaims)
			r.Get("/{id}", h.GetClaim)
			r.Post("/{id}/approve", h.ApproveClaim)
			r.Post("/{id}/reject", h.RejectClaim)
		})

		r.Post("/reminders/run", h.RunReminders)

		r.Get("/scenarios", h.ListScenarios)
		r.Get("/scenarios/current", h.GetCurrentScenario)
		r.Post("/scenarios/load", h.LoadScenario)

		r.Get("/receipts/{id}", h.GetReceipt)
	})

	return r
}

// requestLogger replaces chi's middleware.Logger with a zerolog event per
// request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				ev := log.Info()
				if status >= 500 {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
