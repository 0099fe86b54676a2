package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/software/relay/service"
)

type notifyRequest struct {
	Event string `json:"event,omitempty"` // notification|new_notification
	contracts.NotificationPayload
}

// ----- Handler: POST /v1/notifications -----

func (handler *RelayHTTPHandler) handleNotify(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	out, err := handler.svc.Notify(ctx, req.Event, req.NotificationPayload)
	if err != nil {
		handler.adminError(ctx, w, err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusAccepted, out)
}

// ----- Handler: POST /v1/broadcasts -----

func (handler *RelayHTTPHandler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req contracts.NotificationPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	out, err := handler.svc.Broadcast(ctx, req)
	if err != nil {
		handler.adminError(ctx, w, err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusAccepted, out)
}

// ----- Handler: POST /v1/routes/{route_id}/updates -----

func (handler *RelayHTTPHandler) handleRouteUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req contracts.RouteUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.RouteID = r.PathValue("route_id")

	out, err := handler.svc.UpdateRoute(ctx, req)
	if err != nil {
		handler.adminError(ctx, w, err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusAccepted, out)
}

// adminError maps service errors onto status codes.
func (handler *RelayHTTPHandler) adminError(ctx context.Context, w http.ResponseWriter, err error) {
	if service.IsClientError(err) {
		handler.httpError(ctx, w, http.StatusBadRequest, err.Error(), err)
		return
	}
	handler.httpError(ctx, w, http.StatusBadGateway, "failed to relay event", err)
}
