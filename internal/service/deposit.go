package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/errs"
	"github.com/mabruquaye/cardpay/internal/events"
	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

// Escrow methods. Cash settles immediately; the others park the deposit in
// pending until confirmed.
const (
	MethodCash = "cash"
	MethodMomo = "momo"
	MethodBank = "bank"
)

// ConfirmationChecker stands in for external-network verification of a
// pending deposit. A nil return confirms; an error is the rejection reason.
type ConfirmationChecker interface {
	Confirm(ctx context.Context, deposit *models.Transaction) error
}

// AlwaysConfirm approves every deposit. The development default.
type AlwaysConfirm struct{}

func (AlwaysConfirm) Confirm(context.Context, *models.Transaction) error { return nil }

// DepositConfig extends the shared settlement rules with the pending window.
type DepositConfig struct {
	Config
	// Expiry is how long an escrow deposit stays confirmable.
	Expiry time.Duration
}

// DepositWorkflow runs the cash and escrow deposit paths. The confirmation
// check goes through a circuit breaker so a flapping settlement network
// fails fast instead of piling up synchronous calls.
type DepositWorkflow struct {
	cards    store.CardStore
	txlog    store.TransactionStore
	notifier *Notifier
	events   events.Publisher
	checker  ConfirmationChecker
	breaker  *gobreaker.CircuitBreaker
	cfg      DepositConfig
	logger   *logging.Logger
	now      func() time.Time
}

func NewDepositWorkflow(
	cards store.CardStore,
	txlog store.TransactionStore,
	notifier *Notifier,
	publisher events.Publisher,
	checker ConfirmationChecker,
	cfg DepositConfig,
	logger *logging.Logger,
) *DepositWorkflow {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if checker == nil {
		checker = AlwaysConfirm{}
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	w := &DepositWorkflow{
		cards:    cards,
		txlog:    txlog,
		notifier: notifier,
		events:   publisher,
		checker:  checker,
		cfg:      cfg,
		logger:   logger.Named("deposit"),
		now:      time.Now,
	}

	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "deposit-confirmation",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("confirmation breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// A rejected deposit is a normal outcome, not a network failure.
			return err == nil || errors.Is(err, errRejected)
		},
	})

	return w
}

// errRejected wraps checker rejections so the breaker can tell them apart
// from transport failures.
var errRejected = errors.New("rejected")

// Reject marks a confirmation outcome as a business rejection rather than a
// network failure, so it does not count against the circuit breaker.
func Reject(reason string) error {
	return fmt.Errorf("%w: %s", errRejected, reason)
}

// Create validates ownership and either settles immediately (cash) or parks
// the deposit pending with settlement instructions.
func (w *DepositWorkflow) Create(ctx context.Context, callerID string, req models.DepositRequest) (*models.DepositResponse, error) {
	if err := w.validate(req); err != nil {
		return nil, err
	}

	card, err := w.cards.Get(ctx, req.CardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			return nil, errs.NotFound("card_not_found", "card not found")
		}
		return nil, errs.Integrity("card_lookup_failed", "could not load card", err)
	}
	if card.OwnerID != callerID {
		return nil, errs.Authorization("forbidden", "card does not belong to caller")
	}

	if req.EscrowMethod == MethodCash {
		return w.createCash(ctx, callerID, card, req)
	}
	return w.createEscrow(ctx, callerID, card, req)
}

func (w *DepositWorkflow) createCash(ctx context.Context, callerID string, card *models.Card, req models.DepositRequest) (*models.DepositResponse, error) {
	newBalance, err := w.cards.ApplyDelta(ctx, card.ID, req.Amount, false)
	if err != nil {
		return nil, errs.Integrity("credit_failed", "could not credit card", err)
	}

	created := w.now()
	tx := &models.Transaction{
		ID:           uuid.NewString(),
		OwnerID:      callerID,
		CardID:       card.ID,
		Kind:         models.KindDeposit,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       models.StatusCompleted,
		EscrowMethod: MethodCash,
		Description:  req.Description,
		CreatedAt:    created,
	}
	if err := w.txlog.Append(ctx, tx); err != nil {
		// Credit already landed; take it back before reporting.
		if _, cerr := w.cards.ApplyDelta(ctx, card.ID, -req.Amount, false); cerr != nil {
			w.logger.Error("compensation: reverse cash credit failed",
				zap.String("card_id", card.ID), zap.Error(cerr))
		}
		return nil, errs.Integrity("deposit_failed",
			"deposit could not be recorded; the credit has been reversed", err)
	}

	if err := w.notifier.Emit(ctx, callerID, "Deposit completed",
		fmt.Sprintf("Your cash deposit of %s %s is available on card ending %s.",
			req.Currency, formatAmount(req.Amount), card.Last4)); err != nil {
		w.logger.Warn("deposit notification failed", zap.Error(err))
	}

	w.events.Publish(events.Event{
		Type:          "deposit.completed",
		TransactionID: tx.ID,
		OwnerID:       callerID,
		CardID:        card.ID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		OccurredAt:    created,
	})

	return &models.DepositResponse{
		ID:             tx.ID,
		Status:         string(models.StatusCompleted),
		Amount:         req.Amount,
		CardID:         card.ID,
		NewBalance:     &newBalance,
		ConfirmationID: confirmationID(tx.ID),
		Created:        created,
	}, nil
}

func (w *DepositWorkflow) createEscrow(ctx context.Context, callerID string, card *models.Card, req models.DepositRequest) (*models.DepositResponse, error) {
	created := w.now()
	expiresAt := created.Add(w.cfg.Expiry)
	tx := &models.Transaction{
		ID:           uuid.NewString(),
		OwnerID:      callerID,
		CardID:       card.ID,
		Kind:         models.KindDeposit,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       models.StatusPending,
		EscrowMethod: req.EscrowMethod,
		PendingUntil: &expiresAt,
		Description:  req.Description,
		CreatedAt:    created,
	}
	if err := w.txlog.Append(ctx, tx); err != nil {
		return nil, errs.Integrity("deposit_failed", "could not record deposit", err)
	}

	instructions := w.instructionsFor(tx, req)
	return &models.DepositResponse{
		ID:           tx.ID,
		Status:       string(models.StatusPending),
		Amount:       req.Amount,
		CardID:       card.ID,
		Instructions: &instructions,
		ExpiresAt:    &expiresAt,
		Created:      created,
	}, nil
}

// Confirm is idempotent: a completed deposit is a no-op, a failed one is a
// conflict, and an expired one transitions to failed without touching the
// balance.
func (w *DepositWorkflow) Confirm(ctx context.Context, callerID, depositID string) (*models.ConfirmResponse, error) {
	tx, err := w.txlog.Get(ctx, depositID)
	if err != nil || tx.Kind != models.KindDeposit {
		if err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, errs.Integrity("deposit_lookup_failed", "could not load deposit", err)
		}
		return nil, errs.NotFound("deposit_not_found", "deposit not found")
	}
	if tx.OwnerID != callerID {
		return nil, errs.Authorization("forbidden", "deposit does not belong to caller")
	}

	switch tx.Status {
	case models.StatusCompleted:
		card, err := w.cards.Get(ctx, tx.CardID)
		if err != nil {
			return nil, errs.Integrity("card_lookup_failed", "could not load card", err)
		}
		return &models.ConfirmResponse{
			ID:             tx.ID,
			Status:         string(models.StatusCompleted),
			NewBalance:     card.Balance,
			ConfirmationID: confirmationID(tx.ID),
			CompletedAt:    w.now(),
		}, nil
	case models.StatusFailed:
		return nil, errs.Conflict("payment_failed", "deposit already failed: "+tx.FailureReason)
	case models.StatusPending:
		// fall through
	default:
		return nil, errs.Conflict("invalid_state", "deposit is not confirmable")
	}

	if tx.PendingUntil != nil && w.now().After(*tx.PendingUntil) {
		if err := w.txlog.Transition(ctx, tx.ID, models.StatusPending, models.StatusFailed, "expired"); err != nil {
			w.logger.Error("mark expired deposit failed", zap.String("deposit_id", tx.ID), zap.Error(err))
		}
		return nil, errs.BusinessRule("deposit_expired", "deposit window has expired")
	}

	if _, err := w.breaker.Execute(func() (any, error) {
		return nil, w.checker.Confirm(ctx, tx)
	}); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.Integrity("confirmation_unavailable",
				"settlement network verification is unavailable, retry later", err)
		}
		reason := strings.TrimSpace(err.Error())
		if uerr := w.txlog.Transition(ctx, tx.ID, models.StatusPending, models.StatusFailed, reason); uerr != nil {
			w.logger.Error("mark rejected deposit failed", zap.String("deposit_id", tx.ID), zap.Error(uerr))
		}
		return nil, errs.BusinessRule("payment_failed", "deposit was not verified: "+reason)
	}

	// Verified: claim the pending record before touching the balance. Two
	// concurrent confirms both reach this point with a pending snapshot; the
	// conditional transition lets exactly one of them credit.
	if err := w.txlog.Transition(ctx, tx.ID, models.StatusPending, models.StatusCompleted, ""); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, errs.Conflict("confirm_conflict",
				"deposit was updated concurrently, retry to see its final state")
		}
		return nil, errs.Integrity("deposit_failed", "could not complete deposit", err)
	}

	newBalance, err := w.cards.ApplyDelta(ctx, tx.CardID, tx.Amount, false)
	if err != nil {
		if terr := w.txlog.Transition(ctx, tx.ID, models.StatusCompleted, models.StatusPending, ""); terr != nil {
			w.logger.Error("compensation: reopen deposit failed",
				zap.String("deposit_id", tx.ID), zap.Error(terr))
		}
		return nil, errs.Integrity("credit_failed", "could not credit card", err)
	}

	completedAt := w.now()
	if err := w.notifier.Emit(ctx, tx.OwnerID, "Deposit confirmed",
		fmt.Sprintf("Your %s deposit of %s %s has been confirmed.",
			tx.EscrowMethod, tx.Currency, formatAmount(tx.Amount))); err != nil {
		w.logger.Warn("deposit notification failed", zap.Error(err))
	}

	w.events.Publish(events.Event{
		Type:          "deposit.completed",
		TransactionID: tx.ID,
		OwnerID:       tx.OwnerID,
		CardID:        tx.CardID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		OccurredAt:    completedAt,
	})

	return &models.ConfirmResponse{
		ID:             tx.ID,
		Status:         string(models.StatusCompleted),
		NewBalance:     newBalance,
		ConfirmationID: confirmationID(tx.ID),
		CompletedAt:    completedAt,
	}, nil
}

// Get returns a deposit owned by the caller.
func (w *DepositWorkflow) Get(ctx context.Context, callerID, depositID string) (*models.Transaction, error) {
	tx, err := w.txlog.Get(ctx, depositID)
	if err != nil || tx.Kind != models.KindDeposit {
		if err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, errs.Integrity("deposit_lookup_failed", "could not load deposit", err)
		}
		return nil, errs.NotFound("deposit_not_found", "deposit not found")
	}
	if tx.OwnerID != callerID {
		return nil, errs.Authorization("forbidden", "deposit does not belong to caller")
	}
	return tx, nil
}

func (w *DepositWorkflow) validate(req models.DepositRequest) error {
	if req.Currency != w.cfg.Currency {
		return errs.Validation("unsupported_currency",
			fmt.Sprintf("only %s is supported", w.cfg.Currency))
	}
	if req.Amount <= 0 {
		return errs.Validation("invalid_amount", "amount must be positive")
	}
	if req.Amount > w.cfg.MaxAmount {
		return errs.Validation("invalid_amount", "amount exceeds the allowed maximum")
	}
	if req.CardID == "" {
		return errs.Validation("missing_card", "cardId is required")
	}
	switch req.EscrowMethod {
	case MethodCash, MethodBank:
	case MethodMomo:
		if req.MobileNumber == "" {
			return errs.Validation("missing_mobile_number", "mobileNumber is required for momo deposits")
		}
	default:
		return errs.Validation("invalid_method", "escrowMethod must be cash, momo or bank")
	}
	return nil
}

func (w *DepositWorkflow) instructionsFor(tx *models.Transaction, req models.DepositRequest) models.DepositInstructions {
	ref := confirmationID(tx.ID)
	switch tx.EscrowMethod {
	case MethodMomo:
		network := req.MobileNetwork
		if network == "" {
			network = "MTN"
		}
		return models.DepositInstructions{
			Method:      MethodMomo,
			Destination: fmt.Sprintf("%s merchant wallet 880044 (CardPay)", network),
			Reference:   ref,
			Steps: []string{
				fmt.Sprintf("Dial your %s mobile money menu from %s.", network, req.MobileNumber),
				"Choose 'Pay merchant' and enter merchant ID 880044.",
				fmt.Sprintf("Send exactly %s %s.", tx.Currency, formatAmount(tx.Amount)),
				fmt.Sprintf("Use %s as the payment reference.", ref),
				"Return to the app and confirm the deposit.",
			},
		}
	default:
		return models.DepositInstructions{
			Method:      MethodBank,
			Destination: "CardPay Settlement Account 0012 3345 6678, Apex Bank, Accra",
			Reference:   ref,
			Steps: []string{
				fmt.Sprintf("Transfer exactly %s %s to the settlement account.", tx.Currency, formatAmount(tx.Amount)),
				fmt.Sprintf("Quote %s in the transfer narration.", ref),
				"Return to the app and confirm once the transfer clears.",
			},
		}
	}
}

// confirmationID derives a stable human-readable reference from the deposit
// id so replayed confirms return the same value.
func confirmationID(txID string) string {
	id := strings.ReplaceAll(txID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "CNF-" + strings.ToUpper(id)
}
