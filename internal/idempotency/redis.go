package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

// claimMarker prefixes the value stored while the winning request is still
// executing; the request fingerprint follows it.
const claimMarker = "__claim__:"

// cached is the value stored once the winning request finished.
type cached struct {
	Fingerprint string `json:"fingerprint"`
	Result      Result `json:"result"`
}

// RedisGuard implements Guard on Redis so replays survive process restarts
// and deduplicate across instances. The claim is a SET NX with the same TTL
// as the cached response; Redis expiry replaces the background sweep.
type RedisGuard struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	Prefix   string
	TTL      time.Duration
}

func NewRedisGuard(cfg RedisConfig) (*RedisGuard, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "idem:"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.Addr},
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("idempotency: redis ping: %w", err)
	}

	return &RedisGuard{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (g *RedisGuard) Execute(ctx context.Context, callerID, key, fingerprint string, op Operation) (Result, bool, error) {
	if key == "" {
		res, err := op(ctx)
		return res, false, err
	}

	fullKey := g.prefix + compositeKey(callerID, key)

	// Atomic claim: only one request per live key gets to run the operation.
	claimed := g.client.Do(ctx,
		g.client.B().Set().Key(fullKey).Value(claimMarker+fingerprint).Nx().Px(g.ttl).Build())
	if err := claimed.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			// NX did not apply: the key is either a live claim or a cached
			// response.
			return g.replay(ctx, fullKey, fingerprint)
		}
		return Result{}, false, fmt.Errorf("idempotency: claim: %w", err)
	}

	res, err := op(ctx)
	if err != nil {
		// Release the claim so the caller may retry; failures are not cached.
		_ = g.client.Do(ctx, g.client.B().Del().Key(fullKey).Build()).Error()
		return Result{}, false, err
	}

	data, merr := json.Marshal(cached{Fingerprint: fingerprint, Result: res})
	if merr != nil {
		_ = g.client.Do(ctx, g.client.B().Del().Key(fullKey).Build()).Error()
		return res, false, nil
	}
	if err := g.client.Do(ctx,
		g.client.B().Set().Key(fullKey).Value(string(data)).Px(g.ttl).Build()).Error(); err != nil {
		// The response is still valid; the replay cache just missed a write.
		return res, false, nil
	}
	return res, false, nil
}

func (g *RedisGuard) replay(ctx context.Context, fullKey, fingerprint string) (Result, bool, error) {
	resp := g.client.Do(ctx, g.client.B().Get().Key(fullKey).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			// Claim expired between SET NX and GET; treat as in flight.
			return Result{}, false, ErrInFlight
		}
		return Result{}, false, fmt.Errorf("idempotency: replay: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return Result{}, false, fmt.Errorf("idempotency: replay read: %w", err)
	}
	if strings.HasPrefix(string(data), claimMarker) {
		if string(data[len(claimMarker):]) != fingerprint {
			return Result{}, false, ErrKeyMismatch
		}
		return Result{}, false, ErrInFlight
	}

	var c cached
	if err := json.Unmarshal(data, &c); err != nil {
		return Result{}, false, fmt.Errorf("idempotency: replay decode: %w", err)
	}
	if c.Fingerprint != fingerprint {
		return Result{}, false, ErrKeyMismatch
	}
	return c.Result, true, nil
}

func (g *RedisGuard) Close() error {
	g.client.Close()
	return nil
}
