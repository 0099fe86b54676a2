package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/general/contracts"
)

type pollSessionResponse struct {
	SessionID   string `json:"session_id"`
	WaitSeconds int    `json:"wait_seconds"`
}

// ----- Handler: POST /v1/poll/sessions -----

func (handler *RelayHTTPHandler) handleOpenPoll(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	mb := ws.NewMailbox(handler.clock, ws.DefaultMailboxCapacity)
	sess := handler.hub.Add(ctx, identityOf(r), ws.TransportPolling, mb)

	handler.jsonResponse(ctx, w, http.StatusCreated, pollSessionResponse{
		SessionID:   sess.ID,
		WaitSeconds: int(handler.pollWait / time.Second),
	})
}

// pollSession resolves the path's session. Sessions of other users are
// reported as missing.
func (handler *RelayHTTPHandler) pollSession(r *http.Request) (*ws.Session, *ws.Mailbox, bool) {
	sess, ok := handler.hub.Get(r.PathValue("session_id"))
	if !ok || sess.UserID != identityOf(r).UserID {
		return nil, nil, false
	}
	mb, ok := sess.Sink().(*ws.Mailbox)
	if !ok {
		return nil, nil, false
	}
	return sess, mb, true
}

// ----- Handler: GET /v1/poll/sessions/{session_id}/events -----

func (handler *RelayHTTPHandler) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	_, mb, ok := handler.pollSession(r)
	if !ok {
		handler.httpError(ctx, w, http.StatusNotFound, "poll session not found", nil)
		return
	}

	wait := handler.pollWait
	if s := r.URL.Query().Get("wait"); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs < 0 {
			handler.httpError(ctx, w, http.StatusBadRequest, "wait must be a non-negative number of seconds", err)
			return
		}
		if d := time.Duration(secs) * time.Second; d < wait {
			wait = d
		}
	}

	frames, err := mb.Drain(ctx, wait)
	switch {
	case errors.Is(err, ws.ErrMailboxClosed):
		handler.httpError(ctx, w, http.StatusNotFound, "poll session closed", err)
		return
	case err != nil:
		// client went away mid-poll
		return
	}

	if len(frames) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		out[i] = f
	}
	handler.jsonResponse(ctx, w, http.StatusOK, out)
}

// ----- Handler: POST /v1/poll/sessions/{session_id}/emit -----

func (handler *RelayHTTPHandler) handlePollEmit(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	sess, mb, ok := handler.pollSession(r)
	if !ok {
		handler.httpError(ctx, w, http.StatusNotFound, "poll session not found", nil)
		return
	}
	mb.Touch()

	var frame contracts.Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil || frame.Type == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid frame", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, handler.svc.HandleFrame(ctx, sess, frame))
}

// ----- Handler: DELETE /v1/poll/sessions/{session_id} -----

func (handler *RelayHTTPHandler) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	sess, _, ok := handler.pollSession(r)
	if !ok {
		handler.httpError(ctx, w, http.StatusNotFound, "poll session not found", nil)
		return
	}
	handler.hub.Remove(ctx, sess.ID)
	w.WriteHeader(http.StatusNoContent)
}
