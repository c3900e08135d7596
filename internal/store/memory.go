package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mabruquaye/cardpay/internal/models"
)

// Memory bundles the in-memory stores. They back local development and the
// settlement test suites; semantics mirror the Postgres stores, including
// per-card write serialization.
type Memory struct {
	Cards         *CardMem
	Transactions  *TransactionMem
	Notifications *NotificationMem
}

func NewMemory() *Memory {
	return &Memory{
		Cards:         &CardMem{cards: map[string]*models.Card{}},
		Transactions:  &TransactionMem{byID: map[string]*models.Transaction{}},
		Notifications: &NotificationMem{byID: map[string]*models.Notification{}},
	}
}

// CardMem implements CardStore with a single mutex, which trivially gives
// the per-card serialization the Postgres version gets from its version
// column.
type CardMem struct {
	mu    sync.RWMutex
	cards map[string]*models.Card
}

func (s *CardMem) Get(ctx context.Context, cardID string) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	cp := *card
	return &cp, nil
}

func (s *CardMem) GetByToken(ctx context.Context, token string) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, card := range s.cards {
		if card.Token == token {
			cp := *card
			return &cp, nil
		}
	}
	return nil, ErrCardNotFound
}

func (s *CardMem) ListByOwner(ctx context.Context, ownerID string) ([]models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Card
	for _, card := range s.cards {
		if card.OwnerID == ownerID {
			out = append(out, *card)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *CardMem) FindByLast4(ctx context.Context, last4 string, limit int) ([]models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Card
	for _, card := range s.cards {
		if card.Last4 == last4 {
			out = append(out, *card)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CardMem) Last4Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var keys []string
	for _, card := range s.cards {
		if _, ok := seen[card.Last4]; !ok {
			seen[card.Last4] = struct{}{}
			keys = append(keys, card.Last4)
		}
	}
	return keys, nil
}

func (s *CardMem) ApplyDelta(ctx context.Context, cardID string, delta int64, clampToCeiling bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return 0, ErrCardNotFound
	}
	newBalance, err := nextBalance(card, delta, clampToCeiling)
	if err != nil {
		return 0, err
	}
	card.Balance = newBalance
	card.Version++
	return newBalance, nil
}

func (s *CardMem) Create(ctx context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *card
	s.cards[card.ID] = &cp
	return nil
}

// TransactionMem implements TransactionStore in memory.
type TransactionMem struct {
	mu     sync.RWMutex
	byID   map[string]*models.Transaction
	sorted []string // ids in append order
}

func (s *TransactionMem) Append(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.byID[tx.ID] = &cp
	s.sorted = append(s.sorted, tx.ID)
	return nil
}

func (s *TransactionMem) Get(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *TransactionMem) Transition(ctx context.Context, id string, from, to models.TransactionStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.Status != from {
		return ErrStatusConflict
	}
	tx.Status = to
	tx.FailureReason = failureReason
	return nil
}

func (s *TransactionMem) List(ctx context.Context, f TransactionFilter, cursor string, limit int) ([]models.Transaction, string, error) {
	afterID, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := func(t *models.Transaction) bool {
		if f.OwnerID != "" && t.OwnerID != f.OwnerID {
			return false
		}
		if f.CardID != "" && t.CardID != f.CardID {
			return false
		}
		if f.Kind != "" && t.Kind != f.Kind {
			return false
		}
		if f.Status != "" && t.Status != f.Status {
			return false
		}
		return true
	}

	// Walk newest-first; append order stands in for created_at order.
	var records []models.Transaction
	started := afterID == ""
	for i := len(s.sorted) - 1; i >= 0; i-- {
		tx := s.byID[s.sorted[i]]
		if !started {
			if tx.ID == afterID {
				started = true
			}
			continue
		}
		if !matches(tx) {
			continue
		}
		records = append(records, *tx)
		if limit > 0 && len(records) == limit {
			break
		}
	}

	next := ""
	if limit > 0 && len(records) == limit {
		next = EncodeCursor(records[len(records)-1].ID)
	}
	return records, next, nil
}

// NotificationMem implements NotificationStore in memory.
type NotificationMem struct {
	mu   sync.RWMutex
	byID map[string]*models.Notification
	ids  []string
}

func (s *NotificationMem) Append(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.byID[n.ID] = &cp
	s.ids = append(s.ids, n.ID)
	return nil
}

func (s *NotificationMem) ListByOwner(ctx context.Context, ownerID string) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Notification
	for i := len(s.ids) - 1; i >= 0; i-- {
		n := s.byID[s.ids[i]]
		if n.OwnerID == ownerID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *NotificationMem) MarkRead(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok || n.OwnerID != ownerID {
		return ErrNotificationNotFound
	}
	n.Unread = false
	return nil
}
