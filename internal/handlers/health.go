package handlers

import "net/http"

// Health handles GET /healthz.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}
