package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/errs"
	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

// PaymentService is the legacy two-phase payment flow: authorize holds no
// funds, capture debits, refund credits back clamped to the card's original
// ceiling. Structurally a simpler instance of the transfer saga.
type PaymentService struct {
	cards  store.CardStore
	txlog  store.TransactionStore
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

func NewPaymentService(cards store.CardStore, txlog store.TransactionStore, cfg Config, logger *logging.Logger) *PaymentService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PaymentService{
		cards:  cards,
		txlog:  txlog,
		cfg:    cfg,
		logger: logger.Named("payment"),
		now:    time.Now,
	}
}

// Authorize validates the card token and funds and records an authorized
// payment without moving money.
func (s *PaymentService) Authorize(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error) {
	if req.Currency != s.cfg.Currency {
		return nil, errs.Validation("unsupported_currency",
			fmt.Sprintf("only %s is supported", s.cfg.Currency))
	}
	if req.Amount <= 0 || req.Amount > s.cfg.MaxAmount {
		return nil, errs.Validation("invalid_amount", "amount must be positive and within limits")
	}
	if req.CardToken == "" {
		return nil, errs.Validation("missing_card_token", "cardToken is required")
	}

	card, err := s.cards.GetByToken(ctx, req.CardToken)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			return nil, errs.NotFound("card_not_found", "card not found")
		}
		return nil, errs.Integrity("card_lookup_failed", "could not load card", err)
	}
	if req.Amount > card.Balance {
		return nil, errs.BusinessRule("insufficient_funds", "insufficient funds")
	}

	created := s.now()
	tx := &models.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     card.OwnerID,
		CardID:      card.ID,
		Kind:        models.KindPayment,
		Amount:      -req.Amount,
		Currency:    req.Currency,
		Status:      models.StatusAuthorized,
		Description: req.Description,
		CreatedAt:   created,
	}
	if err := s.txlog.Append(ctx, tx); err != nil {
		return nil, errs.Integrity("payment_failed", "could not record payment", err)
	}

	return &models.PaymentResponse{
		ID:       tx.ID,
		Status:   string(models.StatusAuthorized),
		Amount:   req.Amount,
		Currency: req.Currency,
		CardID:   card.ID,
		Created:  created,
	}, nil
}

// Capture debits the authorized amount from the card and transitions the
// payment to captured.
func (s *PaymentService) Capture(ctx context.Context, paymentID string) (*models.PaymentResponse, error) {
	tx, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusAuthorized {
		return nil, errs.Conflict("invalid_state",
			fmt.Sprintf("payment is %s, only authorized payments can be captured", tx.Status))
	}

	// Claim the authorized record before debiting so a concurrent capture
	// cannot debit twice; the conditional transition picks one winner.
	if err := s.txlog.Transition(ctx, tx.ID, models.StatusAuthorized, models.StatusCaptured, ""); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, errs.Conflict("invalid_state", "payment was captured concurrently")
		}
		return nil, errs.Integrity("capture_failed", "could not record capture", err)
	}

	amount := -tx.Amount // stored as outgoing debit
	newBalance, err := s.cards.ApplyDelta(ctx, tx.CardID, tx.Amount, false)
	if err != nil {
		if terr := s.txlog.Transition(ctx, tx.ID, models.StatusCaptured, models.StatusAuthorized, ""); terr != nil {
			s.logger.Error("compensation: reopen authorization failed",
				zap.String("payment_id", tx.ID), zap.Error(terr))
		}
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, errs.BusinessRule("insufficient_funds", "insufficient funds to capture")
		}
		return nil, errs.Integrity("capture_failed", "could not debit card", err)
	}

	return &models.PaymentResponse{
		ID:         tx.ID,
		Status:     string(models.StatusCaptured),
		Amount:     amount,
		Currency:   tx.Currency,
		CardID:     tx.CardID,
		NewBalance: &newBalance,
		Created:    tx.CreatedAt,
	}, nil
}

// Refund credits the captured amount back. The credit is clamped to the
// card's original ceiling: a refund never raises the balance above where the
// card started.
func (s *PaymentService) Refund(ctx context.Context, paymentID string) (*models.PaymentResponse, error) {
	tx, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusCaptured {
		return nil, errs.Conflict("invalid_state",
			fmt.Sprintf("payment is %s, only captured payments can be refunded", tx.Status))
	}

	// Claim the captured record before crediting. Transition-first means a
	// failed refund never has a clamped credit to unwind, which matters: the
	// applied credit can be smaller than the nominal amount, so reversing by
	// the nominal amount would destroy funds.
	if err := s.txlog.Transition(ctx, tx.ID, models.StatusCaptured, models.StatusRefunded, ""); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, errs.Conflict("invalid_state", "payment was refunded concurrently")
		}
		return nil, errs.Integrity("refund_failed", "could not record refund", err)
	}

	amount := -tx.Amount
	newBalance, err := s.cards.ApplyDelta(ctx, tx.CardID, amount, true)
	if err != nil {
		if terr := s.txlog.Transition(ctx, tx.ID, models.StatusRefunded, models.StatusCaptured, ""); terr != nil {
			s.logger.Error("compensation: restore captured status failed",
				zap.String("payment_id", tx.ID), zap.Error(terr))
		}
		return nil, errs.Integrity("refund_failed", "could not credit card", err)
	}

	return &models.PaymentResponse{
		ID:         tx.ID,
		Status:     string(models.StatusRefunded),
		Amount:     amount,
		Currency:   tx.Currency,
		CardID:     tx.CardID,
		NewBalance: &newBalance,
		Created:    tx.CreatedAt,
	}, nil
}

func (s *PaymentService) getPayment(ctx context.Context, paymentID string) (*models.Transaction, error) {
	tx, err := s.txlog.Get(ctx, paymentID)
	if err != nil || tx.Kind != models.KindPayment {
		if err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, errs.Integrity("payment_lookup_failed", "could not load payment", err)
		}
		return nil, errs.NotFound("payment_not_found", "payment not found")
	}
	return tx, nil
}
