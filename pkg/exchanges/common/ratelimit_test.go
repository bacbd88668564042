package common

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRateLimiterUsage(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, zerolog.Nop())

	rl.UpdateFromHeader("40")
	used, limit, pct := rl.GetUsage()
	if used != 40 || limit != 100 || pct != 40 {
		t.Fatalf("usage = %d/%d (%.1f%%)", used, limit, pct)
	}
	if rl.ShouldDelay() {
		t.Fatal("40% should not delay")
	}

	rl.UpdateFromHeader("95")
	if !rl.ShouldDelay() {
		t.Fatal("95% should delay")
	}

	rl.UpdateFromHeader("not-a-number")
	if used, _, _ := rl.GetUsage(); used != 95 {
		t.Fatalf("garbage header changed usage to %d", used)
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, zerolog.Nop())
	rl.UpdateFromHeader("99")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, 1); err == nil {
		t.Fatal("expected context error while over the weight threshold")
	}
}

func TestRateLimiterWaitAllowsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(1200, time.Minute, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rl.Wait(ctx, 1); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatal("Opposite mismatch")
	}
}

func TestTimeSyncOffset(t *testing.T) {
	server := time.Now().Add(2 * time.Second).UnixMilli()
	ts := NewTimeSync(func(context.Context) (int64, error) { return server, nil }, zerolog.Nop())
	if err := ts.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if off := ts.Offset(); off < 1900 || off > 2100 {
		t.Fatalf("offset = %dms, want about 2000", off)
	}
	if ts.LastSync().IsZero() {
		t.Fatal("LastSync not recorded")
	}
}
