package middleware

import (
	"encoding/json"
	"net/http"
)

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// WriteError writes the JSON error envelope shared by middleware and handlers.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
