package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// ListFolders handles GET /api/v1/folders.
func (h *Handlers) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.svc.ListFolders(r.Context(), struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

// AddFolder handles POST /api/v1/folders.
func (h *Handlers) AddFolder(w http.ResponseWriter, r *http.Request) {
	var params service.AddFolderParams
	if !decodeJSON(w, r, &params) {
		return
	}

	folder, err := h.svc.AddFolder(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// RemoveFolder handles DELETE /api/v1/folders/{id}.
func (h *Handlers) RemoveFolder(w http.ResponseWriter, r *http.Request) {
	params := service.FolderIDParams{FolderID: chi.URLParam(r, "id")}
	if _, err := h.svc.RemoveFolder(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IndexFolder handles POST /api/v1/folders/index. Starts an asynchronous
// index run; a run already in progress answers 409.
func (h *Handlers) IndexFolder(w http.ResponseWriter, r *http.Request) {
	var params service.FolderIDParams
	if !decodeJSON(w, r, &params) {
		return
	}

	started, err := h.svc.IndexFolder(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}
