// internal/fetch/ratelimit_test.go
package fetch

import (
	"context"
	"testing"
	"time"
)

func TestDomainRateLimiter_DisabledByDefault(t *testing.T) {
	l := NewDomainRateLimiter(0, 1)

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Acquire(context.Background(), "example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("no default rate should mean no waiting")
	}
}

func TestDomainRateLimiter_DomainRate(t *testing.T) {
	l := NewDomainRateLimiter(0, 1)
	l.SetDomainRate("slow.example", 20) // 50ms per token

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background(), "slow.example"); err != nil {
			t.Fatal(err)
		}
	}
	// First token is free (burst), two more need ~100ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("elapsed %v, expected rate limiting to bite", elapsed)
	}

	// Other domains remain unlimited.
	start = time.Now()
	for i := 0; i < 10; i++ {
		l.Acquire(context.Background(), "fast.example")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("unrelated domain should not be limited")
	}
}

func TestDomainRateLimiter_CancelledWait(t *testing.T) {
	l := NewDomainRateLimiter(0, 1)
	l.SetDomainRate("slow.example", 0.1) // one token per 10s

	l.Acquire(context.Background(), "slow.example") // burst token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "slow.example"); err == nil {
		t.Error("cancelled wait should return an error")
	}
}

func TestDomainRateLimiter_TightenRate(t *testing.T) {
	l := NewDomainRateLimiter(0, 1)
	l.SetDomainRate("x.example", 100)
	l.SetDomainRate("x.example", 1) // learned 429 lowers it

	l.Acquire(context.Background(), "x.example")
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "x.example")
	if err == nil && time.Since(start) < 50*time.Millisecond {
		t.Error("tightened rate should slow the second acquire")
	}
}
