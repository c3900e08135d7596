package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mabruquaye/cardpay/internal/errs"
	"github.com/mabruquaye/cardpay/internal/idempotency"
	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/service"
	"github.com/mabruquaye/cardpay/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardpay_settlements_total",
		Help: "Settlement outcomes by kind",
	}, []string{"kind", "outcome"})
)

// Handler carries the wired settlement services behind the HTTP surface.
type Handler struct {
	cards     store.CardStore
	notes     store.NotificationStore
	txlog     store.TransactionStore
	transfers *service.TransferEngine
	deposits  *service.DepositWorkflow
	payments  *service.PaymentService
	guard     idempotency.Guard
	logger    *logging.Logger
}

func NewHandler(
	cards store.CardStore,
	txlog store.TransactionStore,
	notes store.NotificationStore,
	transfers *service.TransferEngine,
	deposits *service.DepositWorkflow,
	payments *service.PaymentService,
	guard idempotency.Guard,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		cards:     cards,
		txlog:     txlog,
		notes:     notes,
		transfers: transfers,
		deposits:  deposits,
		payments:  payments,
		guard:     guard,
		logger:    logger.Named("api"),
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, r.Method, "/health")
}

// httpStatus maps the error taxonomy onto response codes.
func httpStatus(err error) int {
	if errors.Is(err, idempotency.ErrInFlight) {
		return http.StatusConflict
	}
	if errors.Is(err, idempotency.ErrKeyMismatch) {
		return http.StatusUnprocessableEntity
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindBusinessRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error, method, endpoint string) {
	code := httpStatus(err)
	body := errorBody{Error: errs.CodeOf(err), Message: errs.MessageOf(err)}
	if errors.Is(err, idempotency.ErrInFlight) {
		body = errorBody{Error: "request_in_progress", Message: "an identical request is being processed"}
	}
	if errors.Is(err, idempotency.ErrKeyMismatch) {
		body = errorBody{Error: "idempotency_key_mismatch", Message: "idempotency key was already used with a different request"}
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed: " + err.Error())
	}
	respondJSON(w, code, body, method, endpoint)
}
