package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/itstheanurag/codemare/internal/models"
)

func newTestCache(t *testing.T) (*VerdictCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.TTL = time.Minute

	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestVerdictRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "abc"); err != nil || ok {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}

	want := models.ExecutionResponse{
		Success:     true,
		TotalPassed: 1,
		TotalTests:  1,
		Results:     []models.TestCaseResult{{Index: 0, Passed: true, Hidden: true, Input: []any{}}},
	}
	if err := c.Set(ctx, "abc", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
	}
	if !got.Success || got.TotalTests != 1 || len(got.Results) != 1 || !got.Results[0].Hidden {
		t.Fatalf("unexpected cached response %+v", got)
	}
}

func TestVerdictExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "abc", models.ExecutionResponse{Success: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "abc"); ttl != time.Minute {
		t.Fatalf("expected ttl of 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "abc"); ok {
		t.Fatal("expected the verdict to expire")
	}
}

func TestUnreadableValueIsAMiss(t *testing.T) {
	c, mr := newTestCache(t)

	if err := mr.Set(keyPrefix+"abc", "not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(context.Background(), "abc"); ok || err != nil {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), DefaultConfig()); err == nil {
		t.Fatal("expected an error for an empty address")
	}
}

func TestRedisDown(t *testing.T) {
	c, mr := newTestCache(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("expected a healthy ping, got %v", err)
	}
	mr.Close()

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail when redis is unreachable")
	}

	if _, _, err := c.Get(context.Background(), "abc"); err == nil {
		t.Fatal("expected an error when redis is unreachable")
	}
}
