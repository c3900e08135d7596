package models

import "time"

// Card is a balance-bearing ledger record. Amounts are int64 minor units
// (pesewas). Version is incremented on every balance write and guards
// concurrent updates.
type Card struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Balance         int64     `json:"balance"`
	OriginalCeiling int64     `json:"original_ceiling"`
	Last4           string    `json:"last4"`
	HolderName      string    `json:"holder_name"`
	Token           string    `json:"-"`
	Currency        string    `json:"currency"`
	Version         int64     `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

type TransactionKind string

const (
	KindTransfer TransactionKind = "transfer"
	KindDeposit  TransactionKind = "deposit"
	KindPayment  TransactionKind = "payment"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusAuthorized TransactionStatus = "authorized"
	StatusCaptured   TransactionStatus = "captured"
	StatusRefunded   TransactionStatus = "refunded"
)

// Transaction is an append-only ledger entry. Amount is signed: negative is
// an outgoing debit, positive an incoming credit. Once completed or failed a
// record is immutable except for the status transition performed by the
// workflow that owns it.
type Transaction struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	CardID        string            `json:"card_id"`
	Kind          TransactionKind   `json:"kind"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Recipient     string            `json:"recipient,omitempty"`
	EscrowMethod  string            `json:"escrow_method,omitempty"`
	PendingUntil  *time.Time        `json:"pending_until,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Description   string            `json:"description,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Notification is created when a settlement credits a card owned by someone
// other than the caller. Delivery is someone else's problem; this is only the
// durable record.
type Notification struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Unread    bool      `json:"unread"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferRequest is the payload for POST /transfers.
type TransferRequest struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CardID        string `json:"cardId"`
	Recipient     string `json:"recipient"`
	RecipientName string `json:"recipientName,omitempty"`
	Description   string `json:"description,omitempty"`
}

// TransferResponse is the canonical success body for a settled transfer.
type TransferResponse struct {
	ID                     string    `json:"id"`
	Status                 string    `json:"status"`
	Amount                 int64     `json:"amount"`
	Currency               string    `json:"currency"`
	Recipient              string    `json:"recipient"`
	CardID                 string    `json:"cardId"`
	NewBalance             int64     `json:"newBalance"`
	RecipientFound         bool      `json:"recipientFound"`
	RecipientCardID        string    `json:"recipientCardId,omitempty"`
	RecipientNewBalance    *int64    `json:"recipientNewBalance,omitempty"`
	RecipientTransactionID string    `json:"recipientTransactionId,omitempty"`
	Created                time.Time `json:"created"`
}

// DepositRequest is the payload for POST /deposits.
type DepositRequest struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CardID        string `json:"cardId"`
	EscrowMethod  string `json:"escrowMethod"`
	Description   string `json:"description,omitempty"`
	MobileNetwork string `json:"mobileNetwork,omitempty"`
	MobileNumber  string `json:"mobileNumber,omitempty"`
}

// DepositInstructions tells the caller how to settle a pending escrow
// deposit out of band.
type DepositInstructions struct {
	Method      string   `json:"method"`
	Destination string   `json:"destination"`
	Reference   string   `json:"reference"`
	Steps       []string `json:"steps"`
}

// DepositResponse covers both the immediate cash path and the pending escrow
// path; fields not applicable to the taken path are omitted.
type DepositResponse struct {
	ID             string               `json:"id"`
	Status         string               `json:"status"`
	Amount         int64                `json:"amount"`
	CardID         string               `json:"cardId"`
	NewBalance     *int64               `json:"newBalance,omitempty"`
	ConfirmationID string               `json:"confirmationId,omitempty"`
	Instructions   *DepositInstructions `json:"instructions,omitempty"`
	ExpiresAt      *time.Time           `json:"expiresAt,omitempty"`
	Created        time.Time            `json:"created"`
}

// ConfirmResponse is the success body for POST /deposits/{id}/confirm.
type ConfirmResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	NewBalance     int64     `json:"newBalance"`
	ConfirmationID string    `json:"confirmationId"`
	CompletedAt    time.Time `json:"completedAt"`
}

// PaymentRequest is the payload for the legacy two-phase POST /payments.
type PaymentRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CardToken   string `json:"cardToken"`
	Description string `json:"description,omitempty"`
}

// PaymentResponse is returned by authorize, capture and refund.
type PaymentResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	CardID     string    `json:"cardId"`
	NewBalance *int64    `json:"newBalance,omitempty"`
	Created    time.Time `json:"created"`
}

// TransactionPage is a cursor page of transaction history.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	NextCursor   string        `json:"nextCursor,omitempty"`
}
