// Package store defines the persistence contracts the settlement core runs
// against, plus the Postgres and in-memory implementations. The core only
// ever issues sequential single-record reads and writes; there is no
// cross-record transaction anywhere in the settlement path, which is why the
// orchestrators carry their own compensation logic.
package store

import (
	"context"
	"errors"

	"github.com/mabruquaye/cardpay/internal/models"
)

var (
	ErrCardNotFound         = errors.New("card not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrVersionConflict is returned when the optimistic version check on a
	// card update keeps losing after bounded retries.
	ErrVersionConflict = errors.New("card version conflict")
	// ErrStatusConflict is returned by Transition when the record is no
	// longer in the expected status. The record is left untouched.
	ErrStatusConflict = errors.New("transaction status conflict")
	// ErrInsufficientFunds is returned by ApplyDelta when a debit would take
	// the balance below zero. The balance is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// CardStore is the balance-bearing ledger. ApplyDelta is the only balance
// mutation path: it serializes concurrent writers per card, floors debits at
// zero by rejecting them, and clamps credits to the card's original ceiling
// only when asked (refund-style credits). Transfer and deposit credits pass
// clampToCeiling=false.
type CardStore interface {
	Get(ctx context.Context, cardID string) (*models.Card, error)
	GetByToken(ctx context.Context, token string) (*models.Card, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Card, error)
	// FindByLast4 returns up to limit cards whose stored last-4 equals key.
	FindByLast4(ctx context.Context, last4 string, limit int) ([]models.Card, error)
	// Last4Keys lists every distinct stored last-4, for warming the
	// resolver's negative filter.
	Last4Keys(ctx context.Context) ([]string, error)
	ApplyDelta(ctx context.Context, cardID string, delta int64, clampToCeiling bool) (int64, error)
	Create(ctx context.Context, card *models.Card) error
}

// TransactionFilter narrows a history listing. Zero values match everything.
type TransactionFilter struct {
	OwnerID string
	CardID  string
	Kind    models.TransactionKind
	Status  models.TransactionStatus
}

// TransactionStore is the append-only settlement log. Records are immutable
// after completion except for the status transition performed by the owning
// workflow, which goes through Transition.
type TransactionStore interface {
	Append(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	// Transition moves the record from one status to another atomically.
	// Exactly one of two concurrent callers with the same from status wins;
	// the loser gets ErrStatusConflict and the record is untouched.
	Transition(ctx context.Context, id string, from, to models.TransactionStatus, failureReason string) error
	// List returns records ordered by creation time descending. The returned
	// cursor, when non-empty, resumes after the last returned record.
	List(ctx context.Context, f TransactionFilter, cursor string, limit int) ([]models.Transaction, string, error)
}

// NotificationStore records settlement notifications for later delivery.
type NotificationStore interface {
	Append(ctx context.Context, n *models.Notification) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, ownerID string) error
}
