package web

import (
	"encoding/json"
	"net/http"

	"netmaster/internal/apperr"
)

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// writeError renders err as {error, message}. Only apperr messages reach
// the client; anything else becomes a generic 500.
func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: http.StatusText(status), Message: "internal server error"}
	if e, ok := apperr.As(err); ok {
		body.Error = label(e.Kind)
		body.Message = e.Message
		body.Field = e.Field
	}
	writeJSONStatus(w, status, body)
}

func label(k apperr.Kind) string {
	switch k {
	case apperr.KindValidation:
		return "Invalid data"
	case apperr.KindAuthentication:
		return "Authentication failed"
	case apperr.KindRateLimit:
		return "Rate limit exceeded"
	case apperr.KindNotFound:
		return "Not found"
	default:
		return "Internal server error"
	}
}
