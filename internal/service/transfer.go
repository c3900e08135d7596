package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/errs"
	"github.com/mabruquaye/cardpay/internal/events"
	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/resolver"
	"github.com/mabruquaye/cardpay/internal/store"
)

// Config carries the numeric and currency rules shared by the settlement
// workflows.
type Config struct {
	// Currency is the single supported currency code.
	Currency string
	// MaxAmount is the sanity ceiling for a single settlement.
	MaxAmount int64
}

// TransferEngine settles card-to-card transfers. The backing store offers no
// cross-record transaction, so the engine runs a saga: debit, credit, record,
// notify, with best-effort compensation in reverse order when a step fails
// after the first mutation.
type TransferEngine struct {
	cards    store.CardStore
	txlog    store.TransactionStore
	resolver *resolver.Resolver
	notifier *Notifier
	events   events.Publisher
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

func NewTransferEngine(
	cards store.CardStore,
	txlog store.TransactionStore,
	res *resolver.Resolver,
	notifier *Notifier,
	publisher events.Publisher,
	cfg Config,
	logger *logging.Logger,
) *TransferEngine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TransferEngine{
		cards:    cards,
		txlog:    txlog,
		resolver: res,
		notifier: notifier,
		events:   publisher,
		cfg:      cfg,
		logger:   logger.Named("transfer"),
		now:      time.Now,
	}
}

// Transfer runs the settlement state machine. Every check that can fail
// without side effects runs before the first balance write; from the debit
// onward any failure routes through compensation and surfaces as an
// integrity error telling the caller the debit was restored.
func (e *TransferEngine) Transfer(ctx context.Context, callerID string, req models.TransferRequest) (*models.TransferResponse, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	source, err := e.cards.Get(ctx, req.CardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			return nil, errs.NotFound("card_not_found", "card not found")
		}
		return nil, errs.Integrity("card_lookup_failed", "could not load card", err)
	}
	if source.OwnerID != callerID {
		return nil, errs.Authorization("forbidden", "card does not belong to caller")
	}
	if req.Amount > source.Balance {
		return nil, errs.BusinessRule("insufficient_funds", "insufficient funds")
	}

	recipient, err := e.resolver.Resolve(ctx, req.Recipient, req.RecipientName)
	if err != nil {
		return nil, errs.Integrity("recipient_lookup_failed", "could not resolve recipient", err)
	}
	if recipient != nil && recipient.ID == source.ID {
		return nil, errs.BusinessRule("self_transfer", "cannot transfer to the source card")
	}

	// Debit source: the first mutation. ApplyDelta serializes with any
	// concurrent debit, so a stale sufficient-funds check above cannot
	// over-debit here.
	newSourceBalance, err := e.cards.ApplyDelta(ctx, source.ID, -req.Amount, false)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, errs.BusinessRule("insufficient_funds", "insufficient funds")
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, errs.Conflict("card_busy", "card is being updated, retry")
		}
		return nil, errs.Integrity("debit_failed", "could not debit card", err)
	}

	debited := true
	credited := false
	var recipientNewBalance int64

	fail := func(stage string, cause error) error {
		e.rollback(ctx, callerID, req, source.ID, debited, recipient, credited)
		e.logger.Error("transfer failed after debit",
			zap.String("stage", stage),
			zap.String("card_id", source.ID),
			zap.Int64("amount", req.Amount),
			zap.Error(cause))
		return errs.Integrity("transfer_failed",
			"transfer could not be completed; any debit has been restored", cause)
	}

	// Credit recipient, only for internal transfers. Uncapped: transfer
	// credits may exceed the recipient's original ceiling.
	if recipient != nil {
		recipientNewBalance, err = e.cards.ApplyDelta(ctx, recipient.ID, req.Amount, false)
		if err != nil {
			return nil, fail("credit", err)
		}
		credited = true
	}

	created := e.now()
	outgoing := &models.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     callerID,
		CardID:      source.ID,
		Kind:        models.KindTransfer,
		Amount:      -req.Amount,
		Currency:    req.Currency,
		Status:      models.StatusCompleted,
		Recipient:   req.Recipient,
		Description: req.Description,
		CreatedAt:   created,
	}
	if err := e.txlog.Append(ctx, outgoing); err != nil {
		return nil, fail("record_outgoing", err)
	}

	var incoming *models.Transaction
	if recipient != nil {
		incoming = &models.Transaction{
			ID:          uuid.NewString(),
			OwnerID:     recipient.OwnerID,
			CardID:      recipient.ID,
			Kind:        models.KindTransfer,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Status:      models.StatusCompleted,
			Recipient:   req.Recipient,
			Description: req.Description,
			CreatedAt:   created,
		}
		if err := e.txlog.Append(ctx, incoming); err != nil {
			return nil, fail("record_incoming", err)
		}
	}

	if recipient != nil && recipient.OwnerID != callerID {
		msg := fmt.Sprintf("You received %s %s on card ending %s. New balance: %s %s.",
			req.Currency, formatAmount(req.Amount), recipient.Last4,
			req.Currency, formatAmount(recipientNewBalance))
		if err := e.notifier.Emit(ctx, recipient.OwnerID, "Money received", msg); err != nil {
			return nil, fail("notify", err)
		}
	}

	e.events.Publish(events.Event{
		Type:          "transfer.completed",
		TransactionID: outgoing.ID,
		OwnerID:       callerID,
		CardID:        source.ID,
		Amount:        -req.Amount,
		Currency:      req.Currency,
		OccurredAt:    created,
	})

	resp := &models.TransferResponse{
		ID:             outgoing.ID,
		Status:         string(models.StatusCompleted),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Recipient:      req.Recipient,
		CardID:         source.ID,
		NewBalance:     newSourceBalance,
		RecipientFound: recipient != nil,
		Created:        created,
	}
	if recipient != nil {
		resp.RecipientCardID = recipient.ID
		resp.RecipientNewBalance = &recipientNewBalance
		resp.RecipientTransactionID = incoming.ID
	}
	return resp, nil
}

func (e *TransferEngine) validate(req models.TransferRequest) error {
	if req.Currency != e.cfg.Currency {
		return errs.Validation("unsupported_currency",
			fmt.Sprintf("only %s is supported", e.cfg.Currency))
	}
	if req.Amount <= 0 {
		return errs.Validation("invalid_amount", "amount must be positive")
	}
	if req.Amount > e.cfg.MaxAmount {
		return errs.Validation("invalid_amount", "amount exceeds the allowed maximum")
	}
	if req.CardID == "" {
		return errs.Validation("missing_card", "cardId is required")
	}
	if req.Recipient == "" {
		return errs.Validation("missing_recipient", "recipient is required")
	}
	return nil
}

// rollback compensates in reverse order: un-credit the recipient, then
// re-credit the source, then record the failure. Each step is best effort; a
// compensation failure is logged and swallowed because there is nothing
// useful left to tell the caller beyond the integrity error already on its
// way.
func (e *TransferEngine) rollback(ctx context.Context, callerID string, req models.TransferRequest, sourceID string, debited bool, recipient *models.Card, credited bool) {
	if credited && recipient != nil {
		if _, err := e.cards.ApplyDelta(ctx, recipient.ID, -req.Amount, false); err != nil {
			e.logger.Error("compensation: restore recipient balance failed",
				zap.String("card_id", recipient.ID), zap.Error(err))
		}
	}
	if debited {
		if _, err := e.cards.ApplyDelta(ctx, sourceID, req.Amount, false); err != nil {
			e.logger.Error("compensation: restore source balance failed",
				zap.String("card_id", sourceID), zap.Error(err))
		}
	}

	failed := &models.Transaction{
		ID:            uuid.NewString(),
		OwnerID:       callerID,
		CardID:        sourceID,
		Kind:          models.KindTransfer,
		Amount:        -req.Amount,
		Currency:      req.Currency,
		Status:        models.StatusFailed,
		Recipient:     req.Recipient,
		FailureReason: "settlement failed after debit; balances restored",
		Description:   req.Description,
		CreatedAt:     e.now(),
	}
	if err := e.txlog.Append(ctx, failed); err != nil {
		e.logger.Error("compensation: record failed transaction", zap.Error(err))
	}
}

// formatAmount renders minor units as a decimal string for notifications.
func formatAmount(minor int64) string {
	neg := ""
	if minor < 0 {
		neg = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", neg, minor/100, minor%100)
}
