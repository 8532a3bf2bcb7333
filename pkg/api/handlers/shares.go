package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// CreateShare handles POST /api/v1/shares. The call blocks on the publish
// barrier until the folder version's uploads have settled.
func (h *Handlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	var params service.CreateShareParams
	if !decodeJSON(w, r, &params) {
		return
	}

	pub, err := h.svc.CreateShare(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pub)
}

// ListShares handles GET /api/v1/shares. The optional ?folder_id= query
// narrows the listing.
func (h *Handlers) ListShares(w http.ResponseWriter, r *http.Request) {
	params := service.ListSharesParams{FolderID: r.URL.Query().Get("folder_id")}
	shares, err := h.svc.ListShares(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

// VerifyShare handles POST /api/v1/shares/{id}/verify. Answers whether
// the presented credentials would be granted access.
func (h *Handlers) VerifyShare(w http.ResponseWriter, r *http.Request) {
	var params service.VerifyShareParams
	if !decodeJSON(w, r, &params) {
		return
	}
	params.ShareID = chi.URLParam(r, "id")

	result, err := h.svc.VerifyShare(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RevokeShare handles DELETE /api/v1/shares/{id}.
func (h *Handlers) RevokeShare(w http.ResponseWriter, r *http.Request) {
	params := service.ShareIDParams{ShareID: chi.URLParam(r, "id")}
	if _, err := h.svc.RevokeShare(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtendShare handles POST /api/v1/shares/{id}/extend.
func (h *Handlers) ExtendShare(w http.ResponseWriter, r *http.Request) {
	var params service.ExtendShareParams
	if !decodeJSON(w, r, &params) {
		return
	}
	params.ShareID = chi.URLParam(r, "id")

	pub, err := h.svc.ExtendShare(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

// AddRecipient handles POST /api/v1/shares/{id}/recipients.
func (h *Handlers) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var params service.RecipientParams
	if !decodeJSON(w, r, &params) {
		return
	}
	params.ShareID = chi.URLParam(r, "id")

	if _, err := h.svc.AddShareRecipient(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveRecipient handles DELETE /api/v1/shares/{id}/recipients/{userID}.
func (h *Handlers) RemoveRecipient(w http.ResponseWriter, r *http.Request) {
	params := service.RecipientParams{
		ShareID: chi.URLParam(r, "id"),
		UserID:  chi.URLParam(r, "userID"),
	}
	if _, err := h.svc.RemoveShareRecipient(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
