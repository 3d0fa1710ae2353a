package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes completions of deterministic requests (temperature 0).
// Sampled requests always go to the provider.
func Cache(size int, ttl time.Duration) Middleware {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	store := expirable.NewLRU[string, string](size, nil, ttl)
	return func(next Provider) Provider {
		return &cached{next: next, store: store}
	}
}

type cached struct {
	next  Provider
	store *expirable.LRU[string, string]
}

func (c *cached) Name() string { return c.next.Name() }

func (c *cached) Complete(ctx context.Context, req Request) (string, error) {
	if req.Temperature != 0 {
		return c.next.Complete(ctx, req)
	}
	key, err := cacheKey(c.next.Name(), req)
	if err != nil {
		return c.next.Complete(ctx, req)
	}
	if out, ok := c.store.Get(key); ok {
		return out, nil
	}
	out, err := c.next.Complete(ctx, req)
	if err == nil && out != "" {
		c.store.Add(key, out)
	}
	return out, err
}

func cacheKey(provider string, req Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(provider+"\x00"), b...))
	return hex.EncodeToString(sum[:]), nil
}
