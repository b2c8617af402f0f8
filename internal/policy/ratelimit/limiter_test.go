package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
)

func TestAcquireImmediateWithinBurst(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{RPS: 1, Burst: 2})

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background(), "https://example.com/page"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("burst acquires should not block, took %v", elapsed)
	}
}

func TestAcquireBlocksBeyondBurst(t *testing.T) {
	t.Parallel()
	metrics.Init()

	// 20 rps = one token every 50ms after the initial burst.
	l := New(Config{RPS: 20, Burst: 1})

	if err := l.Acquire(context.Background(), "https://example.com/a"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Acquire(context.Background(), "https://example.com/b"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("second acquire should have waited for a token, took %v", elapsed)
	}
}

func TestAcquireIsolatesHosts(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{RPS: 1, Burst: 1})

	if err := l.Acquire(context.Background(), "https://a.example.com/"); err != nil {
		t.Fatal(err)
	}
	// A different host draws from its own bucket and must not wait.
	start := time.Now()
	if err := l.Acquire(context.Background(), "https://b.example.com/"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("other host should not share the bucket, took %v", elapsed)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{RPS: 0.1, Burst: 1})
	if err := l.Acquire(context.Background(), "https://example.com/"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "https://example.com/"); err == nil {
		t.Fatal("expected context deadline to abort the wait")
	}
}
