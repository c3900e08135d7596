// Package resolver turns free-text card descriptors into owned cards. A
// descriptor that resolves means the transfer is internal and the matched
// card gets credited; no match means funds leave the system.
package resolver

import (
	"context"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

// Resolver matches descriptors against stored cards by last-4 key, with an
// optional holder-name check. A bloom filter over known last-4 keys lets
// plainly-external descriptors skip the candidate scan entirely.
type Resolver struct {
	cards          store.CardStore
	candidateLimit int
	logger         *logging.Logger

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	warmed bool
}

// Config bounds the candidate scan and sizes the negative filter.
type Config struct {
	// CandidateLimit caps how many same-last-4 cards are fetched per lookup.
	CandidateLimit int
	// ExpectedKeys sizes the bloom filter.
	ExpectedKeys uint
	// FalsePositiveRate tunes the filter; false positives only cost a scan.
	FalsePositiveRate float64
}

func New(cards store.CardStore, cfg Config, logger *logging.Logger) *Resolver {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 25
	}
	if cfg.ExpectedKeys == 0 {
		cfg.ExpectedKeys = 10000
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = 0.01
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Resolver{
		cards:          cards,
		candidateLimit: cfg.CandidateLimit,
		logger:         logger.Named("resolver"),
		filter:         bloom.NewWithEstimates(cfg.ExpectedKeys, cfg.FalsePositiveRate),
	}
}

// Warm loads every stored last-4 key into the negative filter. Call once at
// startup; lookups before warming still work, they just always scan.
func (r *Resolver) Warm(ctx context.Context) error {
	keys, err := r.cards.Last4Keys(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, k := range keys {
		r.filter.Add([]byte(k))
	}
	r.warmed = true
	r.mu.Unlock()

	r.logger.Info("negative filter warmed", zap.Int("keys", len(keys)))
	return nil
}

// Observe registers a newly issued card's last-4 so the filter stays
// current without a re-warm.
func (r *Resolver) Observe(last4 string) {
	r.mu.Lock()
	r.filter.Add([]byte(last4))
	r.mu.Unlock()
}

// Resolve returns the first owned card matching the descriptor, or nil when
// the transfer is external. declaredName, when supplied, must match the
// candidate's holder name ignoring case and surrounding whitespace.
func (r *Resolver) Resolve(ctx context.Context, descriptor, declaredName string) (*models.Card, error) {
	clean := digitsOnly(descriptor)
	if len(clean) < 4 {
		return nil, nil
	}
	key := clean[len(clean)-4:]

	r.mu.RLock()
	warmed := r.warmed
	mayExist := r.filter.Test([]byte(key))
	r.mu.RUnlock()
	if warmed && !mayExist {
		return nil, nil
	}

	candidates, err := r.cards.FindByLast4(ctx, key, r.candidateLimit)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		c := &candidates[i]
		if !strings.HasSuffix(clean, c.Last4) {
			continue
		}
		if declaredName != "" && !nameMatches(declaredName, c.HolderName) {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func nameMatches(declared, stored string) bool {
	return strings.EqualFold(strings.TrimSpace(declared), strings.TrimSpace(stored))
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
