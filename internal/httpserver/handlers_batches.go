package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/natura-rpa/gsp-dispatch/internal/httpserver/dto"
	"github.com/natura-rpa/gsp-dispatch/internal/models"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
	apiresponse "github.com/natura-rpa/gsp-dispatch/lib/api/response"
)

const maxUploadBytes = 32 << 20 // 32 MiB, достаточно для файлов в тысячи строк

func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, r, "can't parse multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	name := r.FormValue("name")
	if name == "" {
		badRequest(w, r, "name is required")
		return
	}
	description := r.FormValue("description")

	orders, err := s.loader(header.Filename, file)
	if err != nil {
		badRequest(w, r, "can't parse uploaded file: "+err.Error())
		return
	}
	if len(orders) == 0 {
		badRequest(w, r, "uploaded file has no orders")
		return
	}

	batchID, err := s.store.CreateBatch(r.Context(), name, description, header.Filename, orders)
	if err != nil {
		internalError(w, r, err)
		return
	}

	s.respondBatch(w, r, batchID)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid json body: "+err.Error())
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, apiresponse.ValidationError(verrs))
			return
		}
		badRequest(w, r, err.Error())
		return
	}

	orders := make([]models.NewOrderInput, len(req.Orders))
	for i, o := range req.Orders {
		products := make([]models.NewProductInput, len(o.Products))
		for j, p := range o.Products {
			products[j] = models.NewProductInput{ProductCode: p.ProductCode, Quantity: p.Quantity}
		}
		orders[i] = models.NewOrderInput{
			ConsultoraCode: o.ConsultoraCode,
			ConsultoraName: o.ConsultoraName,
			Products:       products,
		}
	}

	batchID, err := s.store.CreateBatch(r.Context(), req.Name, req.Description, "", orders)
	if err != nil {
		internalError(w, r, err)
		return
	}

	s.respondBatch(w, r, batchID)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.store.ListBatches(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]dto.BatchSummary, len(batches))
	for i, b := range batches {
		out[i] = dto.BatchSummaryFrom(b)
	}
	render.JSON(w, r, out)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathInt64(w, r, "batchID")
	if !ok {
		return
	}
	s.respondBatch(w, r, batchID)
}

func (s *Server) handleGetBatchStats(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathInt64(w, r, "batchID")
	if !ok {
		return
	}

	stats, err := s.orchestrator.BatchStats(r.Context(), batchID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

func (s *Server) handleGetBatchOrders(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathInt64(w, r, "batchID")
	if !ok {
		return
	}

	var statusFilter *models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.OrderStatus(raw)
		statusFilter = &status
	}

	orders, err := s.store.GetBatchOrders(r.Context(), batchID, statusFilter)
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]dto.OrderSummary, len(orders))
	for i, o := range orders {
		out[i] = dto.OrderSummaryFrom(o)
	}
	render.JSON(w, r, out)
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	s.runBatchCommand(w, r, s.orchestrator.StartBatch)
}

func (s *Server) handlePauseBatch(w http.ResponseWriter, r *http.Request) {
	s.runBatchCommand(w, r, s.orchestrator.PauseBatch)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	s.runBatchCommand(w, r, s.orchestrator.CancelBatch)
}

func (s *Server) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathInt64(w, r, "batchID")
	if !ok {
		return
	}

	retried, err := s.orchestrator.RetryBatchFailures(r.Context(), batchID)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	render.JSON(w, r, map[string]any{"batch_id": batchID, "retried": retried})
}

func (s *Server) runBatchCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, batchID int64) error) {
	batchID, ok := pathInt64(w, r, "batchID")
	if !ok {
		return
	}

	if err := cmd(r.Context(), batchID); err != nil {
		if errors.Is(err, storage.ErrNoBatch) {
			notFound(w, r, err.Error())
			return
		}
		badRequest(w, r, err.Error())
		return
	}

	s.respondBatch(w, r, batchID)
}

func (s *Server) respondBatch(w http.ResponseWriter, r *http.Request, batchID int64) {
	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, storage.ErrNoBatch) {
			notFound(w, r, "batch not found")
			return
		}
		internalError(w, r, err)
		return
	}
	render.JSON(w, r, dto.BatchSummaryFrom(batch))
}

func pathInt64(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(w, r, "invalid "+param)
		return 0, false
	}
	return v, true
}
