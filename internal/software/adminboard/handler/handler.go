package handler

import (
	"context"
	"net/http"

	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/httpx"
	"transit-sync/internal/general/jwt"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/ports"
)

// AdminHTTPHandler adapts HTTP requests to the AdminService.
type AdminHTTPHandler struct {
	svc    ports.AdminService
	logger *logger.Logger
	auth   *jwt.Manager
}

// NewAdminHTTPHandler wires an HTTP handler around the AdminService.
func NewAdminHTTPHandler(svc ports.AdminService, logger *logger.Logger, auth *jwt.Manager) *AdminHTTPHandler {
	return &AdminHTTPHandler{svc: svc, logger: logger, auth: auth}
}

// RegisterRoutes mounts admin monitoring endpoints on the provided mux.
func (handler *AdminHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	adminOnly := jwt.AuthMiddlewareFunc(handler.auth, user.RoleAdmin)

	mux.HandleFunc("GET /v1/admin/overview", adminOnly(handler.handleOverview))
	mux.HandleFunc("GET /v1/admin/locations", adminOnly(handler.handleTrackedEntities))
}

func (handler *AdminHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	httpx.WriteJSON(ctx, handler.logger, w, status, data)
}

func (handler *AdminHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	httpx.WriteError(ctx, handler.logger, w, status, msg, err)
}

func (handler *AdminHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	return httpx.RequestContext(ctx, handler.logger, r)
}
