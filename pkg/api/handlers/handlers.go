package handlers

import (
	"net/http"
	"strconv"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// Handlers binds the HTTP endpoints to the shared service.
type Handlers struct {
	svc *service.Service
}

// New creates the handler set.
func New(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Health handles GET /health and GET /api/v1/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Health(r.Context(), struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Stats handles GET /api/v1/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context(), struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Logs handles GET /api/v1/logs. The optional ?lines= query bounds the
// tail length.
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	var params service.LogsParams
	if q := r.URL.Query().Get("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, service.Validationf("lines must be a positive integer"))
			return
		}
		params.Lines = n
	}

	tail, err := h.svc.GetLogs(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tail)
}
