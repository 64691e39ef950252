package httpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	batches map[int64]*models.Batch
	orders  map[int64]*models.Order
	logs    map[int64][]*models.OrderLog

	createBatchErr error
	lastNewOrders  []models.NewOrderInput
}

func (f *fakeStore) CreateBatch(ctx context.Context, name, description, sourceFile string, orders []models.NewOrderInput) (int64, error) {
	if f.createBatchErr != nil {
		return 0, f.createBatchErr
	}
	f.lastNewOrders = orders
	id := int64(len(f.batches) + 1)
	f.batches[id] = &models.Batch{ID: id, Name: name, Description: description, SourceFile: sourceFile, Status: models.BatchPending, TotalOrders: len(orders)}
	return id, nil
}

func (f *fakeStore) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, storage.ErrNoBatch
	}
	return b, nil
}

func (f *fakeStore) ListBatches(ctx context.Context) ([]*models.Batch, error) {
	out := make([]*models.Batch, 0, len(f.batches))
	for _, b := range f.batches {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrNoOrder
	}
	return o, nil
}

func (f *fakeStore) GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if o.BatchID != batchID {
			continue
		}
		if statusFilter != nil && o.Status != *statusFilter {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeStore) GetOrderLogs(ctx context.Context, orderID int64) ([]*models.OrderLog, error) {
	return f.logs[orderID], nil
}

type fakeOrchestrator struct {
	startErr, pauseErr, cancelErr, retrySingleErr error
	retryBatchCount                               int
	retryBatchErr                                 error
	stats                                         *models.BatchStats
	systemStats                                   *models.SystemStats
}

func (f *fakeOrchestrator) StartBatch(ctx context.Context, batchID int64) error  { return f.startErr }
func (f *fakeOrchestrator) PauseBatch(ctx context.Context, batchID int64) error  { return f.pauseErr }
func (f *fakeOrchestrator) CancelBatch(ctx context.Context, batchID int64) error { return f.cancelErr }

func (f *fakeOrchestrator) RetryBatchFailures(ctx context.Context, batchID int64) (int, error) {
	return f.retryBatchCount, f.retryBatchErr
}

func (f *fakeOrchestrator) RetrySingleOrder(ctx context.Context, orderID int64) error {
	return f.retrySingleErr
}

func (f *fakeOrchestrator) BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error) {
	if f.stats == nil {
		return nil, errors.New("no stats")
	}
	return f.stats, nil
}

func (f *fakeOrchestrator) SystemStats(ctx context.Context) (*models.SystemStats, error) {
	if f.systemStats == nil {
		return nil, errors.New("no stats")
	}
	return f.systemStats, nil
}

func fakeLoader(orders []models.NewOrderInput, err error) Loader {
	return func(filename string, r io.Reader) ([]models.NewOrderInput, error) {
		return orders, err
	}
}

func newTestServer(store *fakeStore, orch *fakeOrchestrator, loader Loader) *Server {
	return New(store, orch, loader, "/tmp/screenshots", noopLogger())
}

func TestHandleGetBatch_NotFound(t *testing.T) {
	s := newTestServer(&fakeStore{batches: map[int64]*models.Batch{}}, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/batches/42", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGetBatch_Found(t *testing.T) {
	store := &fakeStore{batches: map[int64]*models.Batch{1: {ID: 1, Name: "lote-1", Status: models.BatchPending}}}
	s := newTestServer(store, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/batches/1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "lote-1") {
		t.Fatalf("body missing batch name: %s", rec.Body.String())
	}
}

func TestHandleCreateBatch_ValidationError(t *testing.T) {
	s := newTestServer(&fakeStore{batches: map[int64]*models.Batch{}}, &fakeOrchestrator{}, fakeLoader(nil, nil))

	body := bytes.NewBufferString(`{"name": "", "orders": []}`)
	req := httptest.NewRequest(http.MethodPost, "/batches", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestHandleCreateBatch_Success(t *testing.T) {
	store := &fakeStore{batches: map[int64]*models.Batch{}}
	s := newTestServer(store, &fakeOrchestrator{}, fakeLoader(nil, nil))

	payload := `{
		"name": "lote-2",
		"orders": [{"consultora_code": "C1", "products": [{"product_code": "P1", "quantity": 2}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(store.lastNewOrders) != 1 {
		t.Fatalf("expected 1 order passed to CreateBatch, got %d", len(store.lastNewOrders))
	}
}

func TestHandleUploadBatch_MissingFile(t *testing.T) {
	s := newTestServer(&fakeStore{batches: map[int64]*models.Batch{}}, &fakeOrchestrator{}, fakeLoader(nil, nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", "lote-3")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/batches/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestHandleUploadBatch_Success(t *testing.T) {
	store := &fakeStore{batches: map[int64]*models.Batch{}}
	loader := fakeLoader([]models.NewOrderInput{{ConsultoraCode: "C1", Products: []models.NewProductInput{{ProductCode: "P1", Quantity: 1}}}}, nil)
	s := newTestServer(store, &fakeOrchestrator{}, loader)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", "lote-4")
	part, err := mw.CreateFormFile("file", "orders.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("consultora_code,product_code,quantity\nC1,P1,1\n"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/batches/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleStartBatch_NotFound(t *testing.T) {
	orch := &fakeOrchestrator{startErr: storage.ErrNoBatch}
	s := newTestServer(&fakeStore{batches: map[int64]*models.Batch{}}, orch, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/batches/9/start", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleStartBatch_Success(t *testing.T) {
	store := &fakeStore{batches: map[int64]*models.Batch{1: {ID: 1, Name: "lote-5"}}}
	s := newTestServer(store, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/batches/1/start", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleGetOrder_NotFound(t *testing.T) {
	s := newTestServer(&fakeStore{orders: map[int64]*models.Order{}}, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/5", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleRetryOrder_Success(t *testing.T) {
	store := &fakeStore{orders: map[int64]*models.Order{7: {ID: 7, Status: models.OrderRetrying}}}
	s := newTestServer(store, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/orders/7/retry", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleGetOrderLogs(t *testing.T) {
	store := &fakeStore{
		orders: map[int64]*models.Order{},
		logs:   map[int64][]*models.OrderLog{3: {{ID: 1, OrderID: 3, Message: "login ok"}}},
	}
	s := newTestServer(store, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/3/logs", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "login ok") {
		t.Fatalf("body missing log message: %s", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleSystemStats(t *testing.T) {
	orch := &fakeOrchestrator{systemStats: &models.SystemStats{TotalBatches: 3}}
	s := newTestServer(&fakeStore{}, orch, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleGetScreenshot_RejectsPathTraversal(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeOrchestrator{}, fakeLoader(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/screenshots/..", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
