package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/herald/pkg/idempotency"
)

// NewIdempotencyStore builds the claim/lock store from a URL: redis://host:port
// for shared deployments, memory:// for single-process ones.
func NewIdempotencyStore(ctx context.Context, logger *slog.Logger, url string) idempotency.Store {
	switch parseProvider(url) {
	case "redis":
		addr := strings.TrimPrefix(url, "redis://")

		store, err := idempotency.NewRedisStore(ctx, addr, "", 0)
		if err != nil {
			panic(fmt.Errorf("failed to connect to redis at %s: %w", addr, err))
		}

		return store
	case "memory":
		return idempotency.NewMemoryStore()
	default:
		panic("Unsupported idempotency store URL: " + url)
	}
}
