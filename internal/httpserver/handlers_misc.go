package httpserver

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apiresponse "github.com/natura-rpa/gsp-dispatch/lib/api/response"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, apiresponse.OK())
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orchestrator.SystemStats(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

// handleGetScreenshot отдает один файл из s.screenshotDir. Имя файла
// очищается через filepath.Base, чтобы запрос не мог выбраться за
// пределы каталога скриншотов через "..".
func (s *Server) handleGetScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if filename == "." || filename == ".." || filename == string(filepath.Separator) || strings.TrimSpace(filename) == "" {
		badRequest(w, r, "invalid filename")
		return
	}

	http.ServeFile(w, r, filepath.Join(s.screenshotDir, filename))
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, apiresponse.Error(msg))
}

func notFound(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, apiresponse.Error(msg))
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, apiresponse.Error(err.Error()))
}
