package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mabruquaye/cardpay/internal/models"
)

// applyDeltaRetries bounds the optimistic-concurrency retry loop on card
// balance updates.
const applyDeltaRetries = 5

// Postgres bundles the pgx-backed stores over one connection pool.
type Postgres struct {
	Cards         *CardPG
	Transactions  *TransactionPG
	Notifications *NotificationPG
	pool          *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{
		Cards:         &CardPG{pool: pool},
		Transactions:  &TransactionPG{pool: pool},
		Notifications: &NotificationPG{pool: pool},
		pool:          pool,
	}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// CardPG implements CardStore on Postgres. Every write is a single
// statement; concurrent balance updates are serialized by the version column
// rather than row locks, so a slow writer never holds a lock across a
// round trip.
type CardPG struct {
	pool *pgxpool.Pool
}

const cardColumns = "id, owner_id, balance, original_ceiling, last4, holder_name, token, currency, version, created_at"

func scanCard(row pgx.Row) (*models.Card, error) {
	var c models.Card
	err := row.Scan(&c.ID, &c.OwnerID, &c.Balance, &c.OriginalCeiling, &c.Last4,
		&c.HolderName, &c.Token, &c.Currency, &c.Version, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *CardPG) Get(ctx context.Context, cardID string) (*models.Card, error) {
	return scanCard(s.pool.QueryRow(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE id = $1", cardID))
}

func (s *CardPG) GetByToken(ctx context.Context, token string) (*models.Card, error) {
	return scanCard(s.pool.QueryRow(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE token = $1", token))
}

func (s *CardPG) ListByOwner(ctx context.Context, ownerID string) ([]models.Card, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE owner_id = $1 ORDER BY created_at", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCards(rows)
}

func (s *CardPG) FindByLast4(ctx context.Context, last4 string, limit int) ([]models.Card, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE last4 = $1 ORDER BY created_at LIMIT $2",
		last4, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCards(rows)
}

func (s *CardPG) Last4Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT last4 FROM cards")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ApplyDelta performs the read-modify-write cycle under an optimistic
// version check. A debit that would take the balance below zero is rejected
// with ErrInsufficientFunds; a clamped credit never exceeds the card's
// original ceiling.
func (s *CardPG) ApplyDelta(ctx context.Context, cardID string, delta int64, clampToCeiling bool) (int64, error) {
	for attempt := 0; attempt < applyDeltaRetries; attempt++ {
		card, err := s.Get(ctx, cardID)
		if err != nil {
			return 0, err
		}

		newBalance, err := nextBalance(card, delta, clampToCeiling)
		if err != nil {
			return 0, err
		}

		tag, err := s.pool.Exec(ctx,
			"UPDATE cards SET balance = $1, version = version + 1 WHERE id = $2 AND version = $3",
			newBalance, cardID, card.Version)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 1 {
			return newBalance, nil
		}
		// Lost the version race; re-read and retry.
	}
	return 0, ErrVersionConflict
}

func (s *CardPG) Create(ctx context.Context, card *models.Card) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cards (id, owner_id, balance, original_ceiling, last4, holder_name, token, currency, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		card.ID, card.OwnerID, card.Balance, card.OriginalCeiling, card.Last4,
		card.HolderName, card.Token, card.Currency, card.Version, card.CreatedAt)
	return err
}

func collectCards(rows pgx.Rows) ([]models.Card, error) {
	var cards []models.Card
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Balance, &c.OriginalCeiling, &c.Last4,
			&c.HolderName, &c.Token, &c.Currency, &c.Version, &c.CreatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// nextBalance applies the shared delta rules: debits must be fully covered,
// clamped credits stop at the original ceiling.
func nextBalance(card *models.Card, delta int64, clampToCeiling bool) (int64, error) {
	newBalance := card.Balance + delta
	if newBalance < 0 {
		return 0, ErrInsufficientFunds
	}
	if clampToCeiling && newBalance > card.OriginalCeiling {
		newBalance = card.OriginalCeiling
	}
	return newBalance, nil
}

// TransactionPG implements TransactionStore on Postgres.
type TransactionPG struct {
	pool *pgxpool.Pool
}

const txColumns = "id, owner_id, card_id, kind, amount, currency, status, recipient, escrow_method, pending_until, failure_reason, description, created_at"

func (s *TransactionPG) Append(ctx context.Context, tx *models.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, owner_id, card_id, kind, amount, currency, status, recipient, escrow_method, pending_until, failure_reason, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, tx.OwnerID, tx.CardID, tx.Kind, tx.Amount, tx.Currency, tx.Status,
		tx.Recipient, tx.EscrowMethod, tx.PendingUntil, tx.FailureReason, tx.Description, tx.CreatedAt)
	return err
}

func (s *TransactionPG) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	err := s.pool.QueryRow(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE id = $1", id).
		Scan(&t.ID, &t.OwnerID, &t.CardID, &t.Kind, &t.Amount, &t.Currency, &t.Status,
			&t.Recipient, &t.EscrowMethod, &t.PendingUntil, &t.FailureReason, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Transition is a single conditional UPDATE: the status check and the write
// are one statement, so concurrent transitions of the same record serialize
// in the database and only one can win.
func (s *TransactionPG) Transition(ctx context.Context, id string, from, to models.TransactionStatus, failureReason string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE transactions SET status = $1, failure_reason = $2 WHERE id = $3 AND status = $4",
		to, failureReason, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *TransactionPG) List(ctx context.Context, f TransactionFilter, cursor string, limit int) ([]models.Transaction, string, error) {
	afterID, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	where := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OwnerID != "" {
		where = append(where, "owner_id = "+arg(f.OwnerID))
	}
	if f.CardID != "" {
		where = append(where, "card_id = "+arg(f.CardID))
	}
	if f.Kind != "" {
		where = append(where, "kind = "+arg(string(f.Kind)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if afterID != "" {
		// Keyset: resume strictly after the cursor record in (created_at, id)
		// descending order.
		where = append(where, fmt.Sprintf(
			"(created_at, id) < (SELECT created_at, id FROM transactions WHERE id = %s)", arg(afterID)))
	}

	query := "SELECT " + txColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var records []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.CardID, &t.Kind, &t.Amount, &t.Currency, &t.Status,
			&t.Recipient, &t.EscrowMethod, &t.PendingUntil, &t.FailureReason, &t.Description, &t.CreatedAt); err != nil {
			return nil, "", err
		}
		records = append(records, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(records) == limit && limit > 0 {
		next = EncodeCursor(records[len(records)-1].ID)
	}
	return records, next, nil
}

// NotificationPG implements NotificationStore on Postgres.
type NotificationPG struct {
	pool *pgxpool.Pool
}

func (s *NotificationPG) Append(ctx context.Context, n *models.Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, owner_id, title, message, unread, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.OwnerID, n.Title, n.Message, n.Unread, n.CreatedAt)
	return err
}

func (s *NotificationPG) ListByOwner(ctx context.Context, ownerID string) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, title, message, unread, created_at
		 FROM notifications WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Message, &n.Unread, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *NotificationPG) MarkRead(ctx context.Context, id, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE notifications SET unread = false WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
