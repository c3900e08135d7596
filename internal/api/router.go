package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mabruquaye/cardpay/internal/auth"
	"github.com/mabruquaye/cardpay/internal/logging"
)

// NewRouter wires the full HTTP surface. Health and metrics sit outside the
// auth boundary; everything under /api/v1 requires a resolved principal.
func NewRouter(h *Handler, resolver auth.Resolver, logger *logging.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(logger))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(AuthMiddleware(resolver))

	apiV1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")

	apiV1.HandleFunc("/deposits", h.CreateDeposit).Methods("POST")
	apiV1.HandleFunc("/deposits/{id}", h.GetDeposit).Methods("GET")
	apiV1.HandleFunc("/deposits/{id}/confirm", h.ConfirmDeposit).Methods("POST")

	apiV1.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	apiV1.HandleFunc("/payments/{id}/capture", h.CapturePayment).Methods("POST")
	apiV1.HandleFunc("/payments/{id}/refund", h.RefundPayment).Methods("POST")

	apiV1.HandleFunc("/cards", h.ListCards).Methods("GET")
	apiV1.HandleFunc("/cards/{id}", h.GetCard).Methods("GET")

	apiV1.HandleFunc("/transactions", h.ListTransactions).Methods("GET")

	apiV1.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	apiV1.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods("POST")

	return r
}
