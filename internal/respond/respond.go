// Package respond writes the JSON envelope every API response uses:
// {"success":true,"data":...} or {"success":false,"error":{"message":...}}.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

// JSON writes data in a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, envelope{Success: true, Data: data})
}

// Error writes message in a failure envelope.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, envelope{Error: &errorBody{Message: message}})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}
