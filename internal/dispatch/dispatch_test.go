package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

type fakeStore struct {
	batchTransitions []models.BatchStatus
	orders           []*models.Order
	queuedOrderIDs   []int64
}

func (f *fakeStore) TransitionBatch(ctx context.Context, batchID int64, from []models.BatchStatus, to models.BatchStatus, startedAtNow, finishedAtNow bool) (bool, error) {
	f.batchTransitions = append(f.batchTransitions, to)
	return true, nil
}

func (f *fakeStore) GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error) {
	return f.orders, nil
}

func (f *fakeStore) TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error) {
	if to == models.OrderQueued && patch.TaskID == nil {
		f.queuedOrderIDs = append(f.queuedOrderIDs, orderID)
	}
	return true, nil
}

type fakeQueue struct {
	enqueued int
}

func (f *fakeQueue) Enqueue(ctx context.Context, lane queue.Lane, name queue.TaskName, orderID, batchID int64, opts queue.TaskOptions) (string, error) {
	f.enqueued++
	return fmt.Sprintf("task-%d", orderID), nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessBatch_DispatchesPendingAndRetrying(t *testing.T) {
	store := &fakeStore{
		orders: []*models.Order{
			{ID: 1, BatchID: 10, Status: models.OrderPending},
			{ID: 2, BatchID: 10, Status: models.OrderRetrying},
			{ID: 3, BatchID: 10, Status: models.OrderCompleted},
		},
	}
	q := &fakeQueue{}

	d := New(store, q, queue.TaskOptions{MaxRetries: 3}, noopLogger())

	result, err := d.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dispatched != 2 {
		t.Fatalf("expected 2 dispatched orders, got %d", result.Dispatched)
	}
	if q.enqueued != 2 {
		t.Fatalf("expected 2 enqueue calls, got %d", q.enqueued)
	}
	if len(store.queuedOrderIDs) != 2 {
		t.Fatalf("expected 2 orders transitioned to queued, got %d", len(store.queuedOrderIDs))
	}

	if store.batchTransitions[0] != models.BatchRunning {
		t.Fatalf("expected batch to transition to running first, got %s", store.batchTransitions[0])
	}
}

func TestProcessBatch_NoCandidatesDispatchesNothing(t *testing.T) {
	store := &fakeStore{orders: []*models.Order{{ID: 1, Status: models.OrderCompleted}}}
	q := &fakeQueue{}

	d := New(store, q, queue.TaskOptions{}, noopLogger())

	result, err := d.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dispatched != 0 {
		t.Fatalf("expected 0 dispatched orders, got %d", result.Dispatched)
	}
}
