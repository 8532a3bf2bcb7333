package handlers

import (
	"net/http"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// Login handles POST /api/v1/auth/login. A valid API key yields a signed
// session token for the mutating routes.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var params service.LoginParams
	if !decodeJSON(w, r, &params) {
		return
	}

	session, err := h.svc.Login(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
