package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"transit-sync/internal/domain/geo"
)

// --- Handler: GET /v1/admin/locations?type=driver&page=X&page_size=Y ---

func (handler *AdminHTTPHandler) handleTrackedEntities(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	query := r.URL.Query()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := handler.svc.GetTrackedEntities(ctxWithTimeout, query.Get("type"), query.Get("page"), query.Get("page_size"))
	switch {
	case errors.Is(err, geo.ErrInvalidEntityType):
		handler.httpError(ctx, w, http.StatusBadRequest, "type must be driver or passenger", err)
		return
	case err != nil:
		handler.httpError(ctx, w, http.StatusInternalServerError, "failed to fetch tracked entities", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, res)
}
