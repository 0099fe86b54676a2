package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/clock"
	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/httpx"
	"transit-sync/internal/general/jwt"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/general/websocket"
	"transit-sync/internal/ports"
	"transit-sync/internal/software/relay/service"
)

// RelayHTTPHandler adapts HTTP requests to the RelayService.
type RelayHTTPHandler struct {
	svc       ports.RelayService
	hub       *ws.Hub
	logger    *logger.Logger
	auth      *jwt.Manager
	websocket *websocket.WebSocket
	clock     clock.Clock
	pollWait  time.Duration
}

// NewRelayHTTPHandler wires an HTTP handler around the RelayService.
// pollWait caps how long one long-poll is held open.
func NewRelayHTTPHandler(
	svc ports.RelayService,
	hub *ws.Hub,
	logger *logger.Logger,
	auth *jwt.Manager,
	socket *websocket.WebSocket,
	clk clock.Clock,
	pollWait time.Duration,
) *RelayHTTPHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &RelayHTTPHandler{
		svc:       svc,
		hub:       hub,
		logger:    logger,
		auth:      auth,
		websocket: socket,
		clock:     clk,
		pollWait:  pollWait,
	}
}

// RegisterRoutes mounts relay endpoints on the provided mux.
func (handler *RelayHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	anyRole := jwt.AuthMiddlewareFunc(handler.auth)
	adminOnly := jwt.AuthMiddlewareFunc(handler.auth, user.RoleAdmin)

	// websocket authenticates on its first frame
	mux.HandleFunc("GET /ws", handler.websocket.ConnectClient)

	mux.HandleFunc("POST /v1/poll/sessions", anyRole(handler.handleOpenPoll))
	mux.HandleFunc("GET /v1/poll/sessions/{session_id}/events", anyRole(handler.handlePollEvents))
	mux.HandleFunc("POST /v1/poll/sessions/{session_id}/emit", anyRole(handler.handlePollEmit))
	mux.HandleFunc("DELETE /v1/poll/sessions/{session_id}", anyRole(handler.handleClosePoll))

	mux.HandleFunc("POST /v1/locations", anyRole(handler.handleLocation))
	mux.HandleFunc("POST /v1/replies", anyRole(handler.handleReply))

	mux.HandleFunc("POST /v1/notifications", adminOnly(handler.handleNotify))
	mux.HandleFunc("POST /v1/broadcasts", adminOnly(handler.handleBroadcast))
	mux.HandleFunc("POST /v1/routes/{route_id}/updates", adminOnly(handler.handleRouteUpdate))

	mux.HandleFunc("GET /health", handler.handleHealth)
	mux.HandleFunc("POST /tokens", handler.handleCreateToken)
}

type TokenRequest struct {
	UserID string    `json:"user_id"`
	Role   user.Role `json:"role"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      user.Role `json:"role"`
}

// handleCreateToken generates JWT tokens for testing
func (handler *RelayHTTPHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	role, err := user.ParseRole(req.Role.String())
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "role must be PASSENGER, DRIVER or ADMIN", err)
		return
	}

	tokenString, claims, err := handler.auth.IssueUserToken(req.UserID, role)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	handler.logger.Info(ctx, "token_generated", "JWT token generated successfully",
		map[string]any{"user_id": req.UserID, "role": role.String()})

	handler.jsonResponse(ctx, w, http.StatusCreated, TokenResponse{
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    req.UserID,
		Role:      role,
	})
}

// identityOf turns the request's claims into a session identity.
func identityOf(r *http.Request) ws.Identity {
	c := jwt.RequireClaims(r)
	if c == nil {
		return ws.Identity{}
	}
	return ws.Identity{UserID: c.Subject, Role: c.Role}
}

// ackError answers a rejected event. Client mistakes get a negative ack so
// the sender drops or prunes the event; anything else is a 500 so it stays
// queued.
func (handler *RelayHTTPHandler) ackError(ctx context.Context, w http.ResponseWriter, err error) {
	if !service.IsClientError(err) {
		handler.httpError(ctx, w, http.StatusInternalServerError, "failed to accept event", err)
		return
	}
	status := http.StatusBadRequest
	if errors.Is(err, service.ErrForbidden) {
		status = http.StatusForbidden
	}
	handler.logger.Error(ctx, "event_rejected", "Event rejected", err, nil)
	handler.jsonResponse(ctx, w, status, contracts.AckData{Success: false, Message: err.Error()})
}

func (handler *RelayHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	httpx.WriteJSON(ctx, handler.logger, w, status, data)
}

func (handler *RelayHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	httpx.WriteError(ctx, handler.logger, w, status, msg, err)
}

func (handler *RelayHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	return httpx.RequestContext(ctx, handler.logger, r)
}
