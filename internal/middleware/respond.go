package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError sends the same {"ok":false,"error":...} body the handlers use,
// so clients see one error shape no matter which layer rejected them.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
