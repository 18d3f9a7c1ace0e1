// Package cachetest resolves a reachable Redis for tests and skips them when none is available.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WebOleg/sepacollect/internal/pkg/env"
)

func unique(values []string, keepEmpty bool) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" && !keepEmpty {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func resolve(t *testing.T) (string, string) {
	t.Helper()

	hosts := unique([]string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1"}, false)
	ports := unique([]string{env.GetEnv("CACHE_PORT", "6379"), "6379"}, false)
	passwords := unique([]string{env.GetEnv("CACHE_PASSWORD", ""), ""}, true)

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, password := range passwords {
				addr := fmt.Sprintf("%s:%s", host, port)
				client := redis.NewClient(&redis.Options{Addr: addr, Password: password})

				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return addr, password
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", ""
}

// NewClient returns a client on an isolated, flushed Redis database. The test is
// skipped when no Redis endpoint can be reached.
func NewClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	addr, password := resolve(t)
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: isolated DB ping failed (%v)", err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush isolated redis db %d: %v", db, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}
