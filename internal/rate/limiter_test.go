package rate

import (
	"context"
	"testing"
	"time"
)

func TestPerHost_Allow(t *testing.T) {
	limiter := New(10.0, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("host1") {
			t.Errorf("expected Allow true for burst request %d", i+1)
		}
	}
	if limiter.Allow("host1") {
		t.Error("expected Allow false after burst exhausted")
	}
	if !limiter.Allow("host2") {
		t.Error("expected independent limit for a different host")
	}
}

func TestPerHost_WaitHonorsContext(t *testing.T) {
	limiter := New(0.1, 1) // one fetch per ten seconds
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "host1"); err != nil {
		t.Fatalf("first wait should pass on burst: %v", err)
	}
	if err := limiter.Wait(ctx, "host1"); err == nil {
		t.Error("expected context deadline to cut the second wait short")
	}
}

func TestPerHost_WaitPaces(t *testing.T) {
	limiter := New(100.0, 1)
	ctx := context.Background()

	start := time.Now()
	limiter.Wait(ctx, "host1")
	limiter.Wait(ctx, "host1")
	if d := time.Since(start); d < 5*time.Millisecond {
		t.Errorf("expected pacing delay, got %v", d)
	}
}
