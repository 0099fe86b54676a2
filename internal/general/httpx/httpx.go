// Package httpx holds the JSON response and request-id helpers shared by the
// relay and admin HTTP handlers.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"transit-sync/internal/general/logger"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// ErrorBody is the JSON shape of every non-ack error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes data before touching w so an encoding failure can still
// become a 500. A nil data writes "{}".
func WriteJSON(ctx context.Context, log *logger.Logger, w http.ResponseWriter, status int, data any) {
	buf := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			log.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
		buf = b
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// WriteError logs err under an action derived from status and answers with
// ErrorBody{msg}.
func WriteError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, status int, msg string, err error) {
	log.Error(ctx, errorAction(status), msg, err, map[string]any{"status": status})
	WriteJSON(ctx, log, w, status, ErrorBody{Error: msg})
}

func errorAction(status int) string {
	switch {
	case status >= 500:
		return "http_internal_error"
	case status == http.StatusBadRequest:
		return "validation_failed"
	default:
		return "request_failed"
	}
}

// RequestContext returns ctx tagged with the caller's X-Request-ID, or a
// fresh one when the header is blank.
func RequestContext(ctx context.Context, log *logger.Logger, r *http.Request) context.Context {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	return log.WithRequestID(ctx, id)
}
