package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// errorDetail carries structured diagnostic detail alongside the user-facing
// message, for copy-to-clipboard style debugging.
func errorDetail(msg, detail string) errResponse {
	return errResponse{Error: msg, Detail: detail}
}
