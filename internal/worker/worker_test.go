package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/driver"
	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/queue"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	order           *models.Order
	products        []*models.OrderProduct
	transitions     []models.OrderStatus
	claimResult     bool
	claimSequence   []bool // if set, consumed in order, one per TransitionOrder call; falls back to claimResult once exhausted
	recomputeCalled bool
	logs            []*models.OrderLog
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	if f.order == nil {
		return nil, storage.ErrNoOrder
	}
	return f.order, nil
}

func (f *fakeStore) GetOrderProducts(ctx context.Context, orderID int64) ([]*models.OrderProduct, error) {
	return f.products, nil
}

func (f *fakeStore) TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, patch storage.OrderPatch) (bool, error) {
	f.transitions = append(f.transitions, to)
	if len(f.claimSequence) > 0 {
		claimed := f.claimSequence[0]
		f.claimSequence = f.claimSequence[1:]
		return claimed, nil
	}
	return f.claimResult, nil
}

func (f *fakeStore) BumpRetry(ctx context.Context, orderID int64) error { return nil }

func (f *fakeStore) SetProductStatus(ctx context.Context, orderID int64, productCode string, status models.ProductStatus, errMsg *string) error {
	return nil
}

func (f *fakeStore) AppendLog(ctx context.Context, entry *models.OrderLog) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) RecomputeBatchCounters(ctx context.Context, batchID int64) error {
	f.recomputeCalled = true
	return nil
}

type fakeDriver struct {
	result driver.OrderResult
}

func (f *fakeDriver) ExecuteOrder(ctx context.Context, orderID int64, consultoraCode string, products []models.OrderProduct, onProgress driver.ProgressFunc) driver.OrderResult {
	onProgress(driver.Progress{Step: models.StepLogin, Message: "logged in", PercentPct: 15})
	return f.result
}

type fakeQueue struct {
	retried bool
}

func (f *fakeQueue) ReportProgress(ctx context.Context, taskID string, meta queue.ProgressMeta) error {
	return nil
}

func (f *fakeQueue) Retry(ctx context.Context, task queue.Task, countdown time.Duration) (string, error) {
	f.retried = true
	return task.TaskID, nil
}

func newTestOrder() *models.Order {
	return &models.Order{
		ID:         1,
		BatchID:    10,
		Status:     models.OrderPending,
		MaxRetries: 3,
		RetryCount: 0,
	}
}

func TestProcessOrder_Success(t *testing.T) {
	store := &fakeStore{
		order:       newTestOrder(),
		products:    []*models.OrderProduct{{ProductCode: "P1", Quantity: 1}},
		claimResult: true,
	}
	drv := &fakeDriver{result: driver.OrderResult{
		Success:       true,
		ProductsAdded: []driver.ProductOutcome{{ProductCode: "P1", Quantity: 1}},
	}}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{BaseDelay: time.Second, UnexpectedErrorWait: time.Minute}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.recomputeCalled {
		t.Fatal("expected batch counters to be recomputed")
	}
	last := store.transitions[len(store.transitions)-1]
	if last != models.OrderCompleted {
		t.Fatalf("expected final transition to completed, got %s", last)
	}
}

func TestProcessOrder_RetriableFailure(t *testing.T) {
	store := &fakeStore{
		order:       newTestOrder(),
		products:    []*models.OrderProduct{{ProductCode: "P1", Quantity: 1}},
		claimResult: true,
	}
	drv := &fakeDriver{result: driver.OrderResult{
		Success:   false,
		Error:     "timed out",
		ErrorStep: "login",
	}}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{BaseDelay: time.Second, UnexpectedErrorWait: time.Minute}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error (retriable failure should not propagate): %v", err)
	}

	if !q.retried {
		t.Fatal("expected a cooperative retry to be enqueued")
	}
	last := store.transitions[len(store.transitions)-1]
	if last != models.OrderRetrying {
		t.Fatalf("expected final transition to retrying, got %s", last)
	}
}

func TestProcessOrder_ExhaustedRetriesPropagatesError(t *testing.T) {
	order := newTestOrder()
	order.RetryCount = 3
	store := &fakeStore{order: order, products: []*models.OrderProduct{{ProductCode: "P1"}}, claimResult: true}
	drv := &fakeDriver{result: driver.OrderResult{Success: false, Error: "boom", ErrorStep: "cart_cleanup"}}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{BaseDelay: time.Second, UnexpectedErrorWait: time.Minute}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err == nil {
		t.Fatal("expected exhausted retries to propagate an error")
	}

	last := store.transitions[len(store.transitions)-1]
	if last != models.OrderFailed {
		t.Fatalf("expected final transition to failed, got %s", last)
	}
}

func TestProcessOrder_EmptyProductsFailsValidation(t *testing.T) {
	store := &fakeStore{order: newTestOrder(), products: nil, claimResult: true}
	drv := &fakeDriver{}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := store.transitions[len(store.transitions)-1]
	if last != models.OrderFailed {
		t.Fatalf("expected empty order to fail validation, got %s", last)
	}
}

func TestProcessOrder_SkipsAlreadyOwnedOrder(t *testing.T) {
	store := &fakeStore{order: newTestOrder(), claimResult: false}
	drv := &fakeDriver{}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.logs) != 0 {
		t.Fatal("no log entries expected when the order was already claimed")
	}
}

// Order claim to in_progress succeeds, but the batch cancels out from under
// the worker before the success transition lands: the second claim loses the
// race and finishSuccess must skip the recompute instead of pretending it won.
func TestProcessOrder_LostRaceAtSuccessSkipsRecompute(t *testing.T) {
	store := &fakeStore{
		order:         newTestOrder(),
		products:      []*models.OrderProduct{{ProductCode: "P1", Quantity: 1}},
		claimSequence: []bool{true, false},
	}
	drv := &fakeDriver{result: driver.OrderResult{
		Success:       true,
		ProductsAdded: []driver.ProductOutcome{{ProductCode: "P1", Quantity: 1}},
	}}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{BaseDelay: time.Second, UnexpectedErrorWait: time.Minute}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.recomputeCalled {
		t.Fatal("recompute must not run when the finish transition lost its race")
	}
}

// Same race, but on the retriable-failure path: the retrying transition loses,
// so no cooperative retry should be enqueued.
func TestProcessOrder_LostRaceAtRetrySkipsRequeue(t *testing.T) {
	store := &fakeStore{
		order:         newTestOrder(),
		products:      []*models.OrderProduct{{ProductCode: "P1", Quantity: 1}},
		claimSequence: []bool{true, false},
	}
	drv := &fakeDriver{result: driver.OrderResult{
		Success:   false,
		Error:     "timed out",
		ErrorStep: "login",
	}}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{BaseDelay: time.Second, UnexpectedErrorWait: time.Minute}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.retried {
		t.Fatal("no retry should be enqueued when the retrying transition lost its race")
	}
}

// Same race, but on the exhausted-retries path: the function still reports the
// underlying failure even though the DB write was lost, but must not recompute.
func TestProcessOrder_LostRaceAtExhaustedFailureStillReportsError(t *testing.T) {
	order := newTestOrder()
	order.RetryCount = 3
	store := &fakeStore{order: order, products: []*models.OrderProduct{{ProductCode: "P1"}}, claimSequence: []bool{true, false}}
	drv := &fakeDriver{result: driver.OrderResult{Success: false, Error: "boom", ErrorStep: "cart_cleanup"}}
	q := &fakeQueue{}

	w := New("worker-1", store, drv, q, config.Retry{BaseDelay: time.Second, UnexpectedErrorWait: time.Minute}, noopLogger())

	if err := w.ProcessOrder(context.Background(), queue.Task{OrderID: 1, TaskID: "t1"}); err == nil {
		t.Fatal("expected exhausted retries to still propagate an error even when the claim was lost")
	}
	if store.recomputeCalled {
		t.Fatal("recompute must not run when the failed transition lost its race")
	}
}
