package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &Client{rdb}
}

func TestBatchStats_MissThenHit(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetBatchStats(ctx, 1)
	if err != nil {
		t.Fatalf("GetBatchStats() error = %v", err)
	}
	if ok {
		t.Fatal("GetBatchStats() ok = true on an empty cache, want false")
	}

	stats := &models.BatchStats{BatchID: 1, Total: 10, Completed: 4, ProgressPct: 40}
	if err := c.SetBatchStats(ctx, 1, stats); err != nil {
		t.Fatalf("SetBatchStats() error = %v", err)
	}

	got, ok, err := c.GetBatchStats(ctx, 1)
	if err != nil {
		t.Fatalf("GetBatchStats() error = %v", err)
	}
	if !ok {
		t.Fatal("GetBatchStats() ok = false after SetBatchStats, want true")
	}
	if got.Total != 10 || got.Completed != 4 {
		t.Fatalf("unexpected cached stats: %+v", got)
	}
}

func TestBatchStats_InvalidateClearsEntry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.SetBatchStats(ctx, 2, &models.BatchStats{BatchID: 2, Total: 5}); err != nil {
		t.Fatalf("SetBatchStats() error = %v", err)
	}
	if err := c.InvalidateBatchStats(ctx, 2); err != nil {
		t.Fatalf("InvalidateBatchStats() error = %v", err)
	}

	_, ok, err := c.GetBatchStats(ctx, 2)
	if err != nil {
		t.Fatalf("GetBatchStats() error = %v", err)
	}
	if ok {
		t.Fatal("GetBatchStats() ok = true after invalidation, want false")
	}
}

func TestBatchStats_ExpiresAfterTTL(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.SetBatchStats(ctx, 3, &models.BatchStats{BatchID: 3, Total: 1}); err != nil {
		t.Fatalf("SetBatchStats() error = %v", err)
	}

	if err := c.Expire(ctx, batchStatsKey(3), -1*time.Second).Err(); err != nil {
		t.Fatalf("Expire() error = %v", err)
	}

	_, ok, err := c.GetBatchStats(ctx, 3)
	if err != nil {
		t.Fatalf("GetBatchStats() error = %v", err)
	}
	if ok {
		t.Fatal("GetBatchStats() ok = true for an expired key, want false")
	}
}

func TestSystemStats_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	stats := &models.SystemStats{TotalBatches: 3, ActiveBatches: 1, TotalOrdersCompleted: 20}
	if err := c.SetSystemStats(ctx, stats); err != nil {
		t.Fatalf("SetSystemStats() error = %v", err)
	}

	got, ok, err := c.GetSystemStats(ctx)
	if err != nil {
		t.Fatalf("GetSystemStats() error = %v", err)
	}
	if !ok {
		t.Fatal("GetSystemStats() ok = false, want true")
	}
	if got.TotalBatches != 3 || got.TotalOrdersCompleted != 20 {
		t.Fatalf("unexpected cached stats: %+v", got)
	}
}
