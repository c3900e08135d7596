package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mabruquaye/cardpay/internal/errs"
	"github.com/mabruquaye/cardpay/internal/idempotency"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Validation("malformed_body", "request body is not valid JSON")
	}
	return nil
}

// requestFingerprint hashes the decoded request so an idempotency key can be
// matched against the body it was first used with.
func requestFingerprint(req interface{}) string {
	raw, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}

// CreateTransfer settles a card-to-card transfer. An Idempotency-Key header
// makes retries replay the original response instead of settling twice.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	p := PrincipalFrom(r.Context())
	key := r.Header.Get("Idempotency-Key")

	var req models.TransferRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, err, "POST", "/transfers")
		return
	}

	// A reused key must carry the same request; replaying a different body
	// under an old key is a client bug, not a retry.
	res, replayed, err := h.guard.Execute(r.Context(), p.ID, key, requestFingerprint(req), func(ctx context.Context) (idempotency.Result, error) {
		resp, err := h.transfers.Transfer(ctx, p.ID, req)
		if err != nil {
			return idempotency.Result{}, err
		}
		body, merr := json.Marshal(resp)
		if merr != nil {
			return idempotency.Result{}, errs.Integrity("encode_failed", "could not encode response", merr)
		}
		return idempotency.Result{Status: http.StatusCreated, Body: body}, nil
	})
	if err != nil {
		settlementsTotal.WithLabelValues("transfer", outcomeLabel(err)).Inc()
		h.respondError(w, err, "POST", "/transfers")
		return
	}

	if replayed {
		w.Header().Set("X-Replayed", "true")
	} else {
		settlementsTotal.WithLabelValues("transfer", "completed").Inc()
	}
	httpRequestsTotal.WithLabelValues("POST", "/transfers", strconv.Itoa(res.Status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}

// CreateDeposit starts a deposit: cash settles immediately, escrow methods
// return instructions and a pending record.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/deposits"))
	defer timer.ObserveDuration()

	p := PrincipalFrom(r.Context())

	var req models.DepositRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, err, "POST", "/deposits")
		return
	}

	resp, err := h.deposits.Create(r.Context(), p.ID, req)
	if err != nil {
		settlementsTotal.WithLabelValues("deposit", outcomeLabel(err)).Inc()
		h.respondError(w, err, "POST", "/deposits")
		return
	}

	settlementsTotal.WithLabelValues("deposit", resp.Status).Inc()
	respondJSON(w, http.StatusCreated, resp, "POST", "/deposits")
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	tx, err := h.deposits.Get(r.Context(), p.ID, id)
	if err != nil {
		h.respondError(w, err, "GET", "/deposits/{id}")
		return
	}
	respondJSON(w, http.StatusOK, tx, "GET", "/deposits/{id}")
}

// ConfirmDeposit completes a pending escrow deposit. Re-confirming a
// completed deposit is a no-op.
func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/deposits/{id}/confirm"))
	defer timer.ObserveDuration()

	p := PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	resp, err := h.deposits.Confirm(r.Context(), p.ID, id)
	if err != nil {
		settlementsTotal.WithLabelValues("deposit_confirm", outcomeLabel(err)).Inc()
		h.respondError(w, err, "POST", "/deposits/{id}/confirm")
		return
	}

	settlementsTotal.WithLabelValues("deposit_confirm", "completed").Inc()
	respondJSON(w, http.StatusOK, resp, "POST", "/deposits/{id}/confirm")
}

// CreatePayment authorizes a legacy two-phase payment against a card token.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, err, "POST", "/payments")
		return
	}

	resp, err := h.payments.Authorize(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "POST", "/payments")
		return
	}
	respondJSON(w, http.StatusCreated, resp, "POST", "/payments")
}

func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resp, err := h.payments.Capture(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "POST", "/payments/{id}/capture")
		return
	}
	respondJSON(w, http.StatusOK, resp, "POST", "/payments/{id}/capture")
}

func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resp, err := h.payments.Refund(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "POST", "/payments/{id}/refund")
		return
	}
	respondJSON(w, http.StatusOK, resp, "POST", "/payments/{id}/refund")
}

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	cards, err := h.cards.ListByOwner(r.Context(), p.ID)
	if err != nil {
		h.respondError(w, errs.Integrity("card_list_failed", "could not list cards", err), "GET", "/cards")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cards": cards}, "GET", "/cards")
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	card, err := h.cards.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			h.respondError(w, errs.NotFound("card_not_found", "card not found"), "GET", "/cards/{id}")
			return
		}
		h.respondError(w, errs.Integrity("card_lookup_failed", "could not load card", err), "GET", "/cards/{id}")
		return
	}
	if card.OwnerID != p.ID {
		h.respondError(w, errs.Authorization("forbidden", "card does not belong to caller"), "GET", "/cards/{id}")
		return
	}
	respondJSON(w, http.StatusOK, card, "GET", "/cards/{id}")
}

// ListTransactions pages the caller's settlement history, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	q := r.URL.Query()

	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			h.respondError(w, errs.Validation("invalid_limit", "limit must be between 1 and 100"), "GET", "/transactions")
			return
		}
		limit = n
	}

	filter := store.TransactionFilter{
		OwnerID: p.ID,
		CardID:  q.Get("cardId"),
		Kind:    models.TransactionKind(q.Get("kind")),
		Status:  models.TransactionStatus(q.Get("status")),
	}

	records, next, err := h.txlog.List(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			h.respondError(w, errs.Validation("invalid_cursor", "cursor is not valid"), "GET", "/transactions")
			return
		}
		h.respondError(w, errs.Integrity("transaction_list_failed", "could not list transactions", err), "GET", "/transactions")
		return
	}

	respondJSON(w, http.StatusOK, models.TransactionPage{Transactions: records, NextCursor: next}, "GET", "/transactions")
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	notes, err := h.notes.ListByOwner(r.Context(), p.ID)
	if err != nil {
		h.respondError(w, errs.Integrity("notification_list_failed", "could not list notifications", err), "GET", "/notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": notes}, "GET", "/notifications")
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	id := mux.Vars(r)["id"]

	if err := h.notes.MarkRead(r.Context(), id, p.ID); err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			h.respondError(w, errs.NotFound("notification_not_found", "notification not found"), "POST", "/notifications/{id}/read")
			return
		}
		h.respondError(w, errs.Integrity("notification_update_failed", "could not update notification", err), "POST", "/notifications/{id}/read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "read"}, "POST", "/notifications/{id}/read")
}

func outcomeLabel(err error) string {
	if errors.Is(err, idempotency.ErrInFlight) {
		return "conflict"
	}
	return errs.KindOf(err).String()
}
