package mockserver

import (
	"encoding/json"
	"net/http"
)

// errorResponse mirrors the backend's error envelope: a single "detail"
// field, which the client surfaces verbatim.
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Detail: message})
}
