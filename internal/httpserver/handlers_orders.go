package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/natura-rpa/gsp-dispatch/internal/httpserver/dto"
	"github.com/natura-rpa/gsp-dispatch/internal/storage"
)

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt64(w, r, "orderID")
	if !ok {
		return
	}

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNoOrder) {
			notFound(w, r, "order not found")
			return
		}
		internalError(w, r, err)
		return
	}

	render.JSON(w, r, dto.OrderSummaryFrom(order))
}

func (s *Server) handleRetryOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt64(w, r, "orderID")
	if !ok {
		return
	}

	if err := s.orchestrator.RetrySingleOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, storage.ErrNoOrder) {
			notFound(w, r, "order not found")
			return
		}
		badRequest(w, r, err.Error())
		return
	}

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	render.JSON(w, r, dto.OrderSummaryFrom(order))
}

func (s *Server) handleGetOrderLogs(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt64(w, r, "orderID")
	if !ok {
		return
	}

	logs, err := s.store.GetOrderLogs(r.Context(), orderID)
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]dto.OrderLogEntry, len(logs))
	for i, l := range logs {
		out[i] = dto.OrderLogEntryFrom(l)
	}
	render.JSON(w, r, out)
}
