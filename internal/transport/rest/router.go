package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/fleet-billing/internal/billing"
	"github.com/frahmantamala/fleet-billing/internal/transport/middleware"
	"github.com/frahmantamala/fleet-billing/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, billingHandler *billing.Handler, webhookHandler *billing.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/billing/payments", func(br chi.Router) {
			// Gateway-facing callback. Authenticated by notification hash,
			// not by session; guards live in the handler itself.
			br.Post("/confirm", webhookHandler.HandleConfirmation)

			br.Get("/status", billingHandler.GetPaymentStatus)
			br.Post("/checkout", billingHandler.InitiateCheckout)
		})
	})
}
