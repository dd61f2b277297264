package utils

import (
	"encoding/json"
	"net/http"
)

// JSONError writes {"error": message} with the given status. Every
// non-stream error response in the API goes through here so bodies stay
// uniform across handlers.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite encodes v as the response body with the given status. A zero
// status leaves net/http's implicit 200 in place.
func JSONWrite(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
