// Package idempotency implements the per-(caller, key) request guard. The
// guard claims a key before running the wrapped operation, so two concurrent
// identical requests can never both execute; the loser gets ErrInFlight and
// retries against the cached response once the winner finishes.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned when an identical request holds the claim for the
// same key and has not finished yet.
var ErrInFlight = errors.New("identical request in progress")

// ErrKeyMismatch is returned when a key is reused with a different request
// body. Replaying a cached response for a different request would silently
// drop the new one.
var ErrKeyMismatch = errors.New("idempotency key reused with a different request")

// Result is the cached outcome of a keyed request.
type Result struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Operation produces the response to cache. It runs at most once per live
// (caller, key) pair.
type Operation func(ctx context.Context) (Result, error)

// Guard deduplicates keyed requests. An empty key always runs the operation.
type Guard interface {
	// Execute returns the operation result and whether it was replayed from
	// cache rather than executed. fingerprint identifies the request body; a
	// key reused with a different fingerprint gets ErrKeyMismatch instead of
	// a replay.
	Execute(ctx context.Context, callerID, key, fingerprint string, op Operation) (Result, bool, error)
	Close() error
}

type entryState int

const (
	stateClaimed entryState = iota
	stateDone
)

type entry struct {
	state       entryState
	fingerprint string
	result      Result
	expiresAt   time.Time
}

// MemoryGuard keeps claims and cached responses in a map with a background
// sweep evicting expired entries.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	wg          sync.WaitGroup
}

// MemoryConfig controls TTL and sweep cadence. Zero values get defaults
// (5 minute TTL, 1 minute sweep).
type MemoryConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

func NewMemoryGuard(cfg MemoryConfig) *MemoryGuard {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}

	g := &MemoryGuard{
		entries:     make(map[string]*entry),
		ttl:         cfg.TTL,
		sweepTicker: time.NewTicker(cfg.SweepInterval),
		stopSweep:   make(chan struct{}),
	}

	g.wg.Add(1)
	go g.sweep()

	return g
}

func compositeKey(callerID, key string) string {
	return callerID + ":" + key
}

func (g *MemoryGuard) Execute(ctx context.Context, callerID, key, fingerprint string, op Operation) (Result, bool, error) {
	if key == "" {
		res, err := op(ctx)
		return res, false, err
	}

	ck := compositeKey(callerID, key)
	now := time.Now()

	g.mu.Lock()
	if e, ok := g.entries[ck]; ok && now.Before(e.expiresAt) {
		if e.fingerprint != fingerprint {
			g.mu.Unlock()
			return Result{}, false, ErrKeyMismatch
		}
		if e.state == stateDone {
			g.mu.Unlock()
			return e.result, true, nil
		}
		g.mu.Unlock()
		return Result{}, false, ErrInFlight
	}
	// Claim before executing. The claim itself expires so a crashed request
	// cannot wedge the key forever.
	g.entries[ck] = &entry{state: stateClaimed, fingerprint: fingerprint, expiresAt: now.Add(g.ttl)}
	g.mu.Unlock()

	res, err := op(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		// Only successful outcomes are cached; release the claim so the
		// caller may retry.
		delete(g.entries, ck)
		return Result{}, false, err
	}
	g.entries[ck] = &entry{state: stateDone, fingerprint: fingerprint, result: res, expiresAt: time.Now().Add(g.ttl)}
	return res, false, nil
}

func (g *MemoryGuard) Close() error {
	g.sweepTicker.Stop()
	close(g.stopSweep)
	g.wg.Wait()
	return nil
}

func (g *MemoryGuard) sweep() {
	defer g.wg.Done()
	for {
		select {
		case <-g.sweepTicker.C:
			g.removeExpired()
		case <-g.stopSweep:
			return
		}
	}
}

func (g *MemoryGuard) removeExpired() {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, e := range g.entries {
		if now.After(e.expiresAt) {
			delete(g.entries, k)
		}
	}
}
