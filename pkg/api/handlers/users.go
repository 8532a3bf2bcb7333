package handlers

import (
	"net/http"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// CreateUser handles POST /api/v1/users. The response includes the API
// key exactly once; only its hash is retained.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var params service.CreateUserParams
	if !decodeJSON(w, r, &params) {
		return
	}

	created, err := h.svc.CreateUser(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
