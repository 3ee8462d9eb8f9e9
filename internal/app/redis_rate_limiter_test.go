package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/assetvault/registry-service/internal/store"
)

func TestConsumeRateLimit_DisabledConfigurations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		limiter *RedisTransferRateLimiter
		scope   string
		subject string
		limit   int
		window  time.Duration
	}{
		{name: "nil receiver", limiter: nil, scope: "transfer", subject: "alice", limit: 10, window: time.Minute},
		{name: "nil client", limiter: NewRedisTransferRateLimiter(nil, ""), scope: "transfer", subject: "alice", limit: 10, window: time.Minute},
		{name: "non-positive limit", limiter: NewRedisTransferRateLimiter(nil, "prefix"), scope: "transfer", subject: "alice", limit: 0, window: time.Minute},
		{name: "non-positive window", limiter: NewRedisTransferRateLimiter(nil, "prefix"), scope: "transfer", subject: "alice", limit: 10, window: 0},
		{name: "blank scope", limiter: NewRedisTransferRateLimiter(nil, "prefix"), scope: "  ", subject: "alice", limit: 10, window: time.Minute},
		{name: "blank subject", limiter: NewRedisTransferRateLimiter(nil, "prefix"), scope: "transfer", subject: "", limit: 10, window: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, retryAfter, err := tt.limiter.ConsumeRateLimit(ctx, tt.scope, tt.subject, tt.limit, tt.window)
			if err != nil {
				t.Fatalf("expected disabled limiter to return no error, got %v", err)
			}
			if count != 0 || retryAfter != 0 {
				t.Fatalf("expected zero count and retry-after, got count=%d retryAfter=%d", count, retryAfter)
			}
		})
	}
}

func TestNewRedisTransferRateLimiter_NormalizesPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "blank falls back to default", prefix: "   ", want: "assetvault:rate_limit"},
		{name: "trailing colon trimmed", prefix: "custom:prefix:", want: "custom:prefix"},
		{name: "plain prefix kept", prefix: "custom", want: "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewRedisTransferRateLimiter(nil, tt.prefix)
			if limiter.prefix != tt.want {
				t.Fatalf("expected prefix %q, got %q", tt.want, limiter.prefix)
			}
		})
	}
}

func TestTransferTokens_DisabledLimiterNeverBlocks(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// A limiter without a backing client behaves like an outage: transfers
	// proceed and no request is ever rejected on rate.
	svc.SetTransferRateLimiter(NewRedisTransferRateLimiter(nil, ""), 1)

	tokenizeTestAsset(t, svc, "asset-001", "alice", 100)
	for i := 0; i < 5; i++ {
		if _, err := svc.TransferTokens(ctx, "alice", "asset-001", "bob", 1); err != nil {
			t.Fatalf("transfer %d returned error: %v", i, err)
		}
	}

	// Balance-level failures still surface through the disabled limiter.
	_, err := svc.TransferTokens(ctx, "alice", "asset-001", "bob", 1000)
	if !errors.Is(err, store.ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", err)
	}
}
