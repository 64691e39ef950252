// Package httpserver реализует Control API (C7): тонкий HTTP-слой,
// транслирующий внешние запросы в вызовы Orchestrator и Store. Сам не
// принимает решений о жизненном цикле пакетов — только валидирует вход,
// переводит коды статусов и сериализует ответы.
package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/httpserver/middleware/logger"
	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

// Store — подмножество storage.Store, нужное Control API.
type Store interface {
	CreateBatch(ctx context.Context, name, description, sourceFile string, orders []models.NewOrderInput) (int64, error)
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	ListBatches(ctx context.Context) ([]*models.Batch, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetBatchOrders(ctx context.Context, batchID int64, statusFilter *models.OrderStatus) ([]*models.Order, error)
	GetOrderLogs(ctx context.Context, orderID int64) ([]*models.OrderLog, error)
}

// Orchestrator — подмножество orchestrator.Orchestrator, нужное Control API.
type Orchestrator interface {
	StartBatch(ctx context.Context, batchID int64) error
	PauseBatch(ctx context.Context, batchID int64) error
	CancelBatch(ctx context.Context, batchID int64) error
	RetryBatchFailures(ctx context.Context, batchID int64) (int, error)
	RetrySingleOrder(ctx context.Context, orderID int64) error
	BatchStats(ctx context.Context, batchID int64) (*models.BatchStats, error)
	SystemStats(ctx context.Context) (*models.SystemStats, error)
}

// Loader разбирает загруженный файл в список заказов для CreateBatch —
// сигнатура internal/loader.LoadFile, выделенная типом, чтобы сервер не
// зависел от конкретного пакета разбора.
type Loader func(filename string, r io.Reader) ([]models.NewOrderInput, error)

// Server собирает роутер Control API.
type Server struct {
	store         Store
	orchestrator  Orchestrator
	loader        Loader
	validate      *validator.Validate
	screenshotDir string
	log           *slog.Logger
}

// New создает Server. loader разбирает файл, загруженный через
// POST /batches/upload, в список заказов.
func New(store Store, orch Orchestrator, loader Loader, screenshotDir string, log *slog.Logger) *Server {
	return &Server{
		store:         store,
		orchestrator:  orch,
		loader:        loader,
		validate:      validator.New(),
		screenshotDir: screenshotDir,
		log:           log,
	}
}

// Router собирает маршруты Control API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logger.New(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleSystemStats)

	r.Route("/batches", func(r chi.Router) {
		r.Post("/upload", s.handleUploadBatch)
		r.Post("/", s.handleCreateBatch)
		r.Get("/", s.handleListBatches)

		r.Route("/{batchID}", func(r chi.Router) {
			r.Get("/", s.handleGetBatch)
			r.Get("/stats", s.handleGetBatchStats)
			r.Get("/orders", s.handleGetBatchOrders)
			r.Post("/start", s.handleStartBatch)
			r.Post("/pause", s.handlePauseBatch)
			r.Post("/cancel", s.handleCancelBatch)
			r.Post("/retry", s.handleRetryBatch)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/{orderID}", s.handleGetOrder)
		r.Post("/{orderID}/retry", s.handleRetryOrder)
		r.Get("/{orderID}/logs", s.handleGetOrderLogs)
	})

	r.Get("/screenshots/{filename}", s.handleGetScreenshot)

	return r
}

// HTTPConfigTimeouts переносит внутренние таймауты конфигурации на
// http.Server, чтобы cmd/api не дублировал их преобразование.
func HTTPConfigTimeouts(cfg config.HTTPServer) (readTimeout, writeTimeout, idleTimeout time.Duration) {
	return cfg.Timeout, cfg.Timeout, cfg.IdleTimeout
}
