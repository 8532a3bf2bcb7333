package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// UploadQueue handles GET /api/v1/upload/queue.
func (h *Handlers) UploadQueue(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.UploadQueue(r.Context(), struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RequeueUpload handles POST /api/v1/upload/queue. Returns a failed or
// abandoned entry to pending.
func (h *Handlers) RequeueUpload(w http.ResponseWriter, r *http.Request) {
	var params service.RequeueUploadParams
	if !decodeJSON(w, r, &params) {
		return
	}

	entry, err := h.svc.RequeueUpload(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// StartDownload handles POST /api/v1/download/start.
func (h *Handlers) StartDownload(w http.ResponseWriter, r *http.Request) {
	var params service.StartDownloadParams
	if !decodeJSON(w, r, &params) {
		return
	}

	started, err := h.svc.StartDownload(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}

// DownloadProgress handles GET /api/v1/download/{id}/progress.
func (h *Handlers) DownloadProgress(w http.ResponseWriter, r *http.Request) {
	params := service.DownloadIDParams{JobID: chi.URLParam(r, "id")}
	progress, err := h.svc.GetDownloadProgress(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// ListDownloads handles GET /api/v1/download.
func (h *Handlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.ListDownloads(r.Context(), struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
