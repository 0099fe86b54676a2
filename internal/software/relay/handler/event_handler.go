package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"transit-sync/internal/general/contracts"

	"github.com/google/uuid"
)

// correlationID reuses the sender's id so a retried event keeps it.
func correlationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}

// ----- Handler: POST /v1/locations -----

func (handler *RelayHTTPHandler) handleLocation(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req contracts.LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.badAck(ctx, w, "invalid request body")
		return
	}

	if err := handler.svc.AcceptLocation(ctx, identityOf(r), req.Event, correlationID(r), req.LocationPayload); err != nil {
		handler.ackError(ctx, w, err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, contracts.AckData{Success: true, Message: "location accepted"})
}

// ----- Handler: POST /v1/replies -----

func (handler *RelayHTTPHandler) handleReply(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req contracts.ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.badAck(ctx, w, "invalid request body")
		return
	}

	if err := handler.svc.AcceptReply(ctx, identityOf(r), req.Event, correlationID(r), req.ReplyPayload); err != nil {
		handler.ackError(ctx, w, err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, contracts.AckData{Success: true, Message: "reply accepted"})
}

func (handler *RelayHTTPHandler) badAck(ctx context.Context, w http.ResponseWriter, msg string) {
	handler.logger.Error(ctx, "validation_failed", msg, nil, nil)
	handler.jsonResponse(ctx, w, http.StatusBadRequest, contracts.AckData{Success: false, Message: msg})
}
