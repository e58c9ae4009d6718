package ingress

import (
	"encoding/json"
	"net/http"
)

// writeJSON wraps body in the {status, message, data} envelope the rest of
// the HTTP surface uses.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
		"data":   body,
	})
}
