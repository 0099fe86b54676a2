// Package rest is the degraded transport: plain REST calls that deliver
// location and reply events when no healthy channel is available.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"transit-sync/internal/general/contracts"
	"transit-sync/internal/general/logger"
	"transit-sync/internal/realtime"
)

var ErrUnsupportedEvent = errors.New("rest: event has no REST endpoint")

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Token returns the bearer token for each call.
	Token  func() string
	Logger *logger.Logger
}

// Client implements realtime.DegradedTransport.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	log     *logger.Logger
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		token:   cfg.Token,
		log:     cfg.Logger,
	}
}

// Send posts msg to /v1/locations or /v1/replies. A 4xx answer with an ack
// body is a negative Ack. Transport failures and 5xx answers are errors.
func (c *Client) Send(ctx context.Context, msg realtime.Message) (realtime.Ack, error) {
	path, body, err := requestFor(msg)
	if err != nil {
		return realtime.Ack{}, err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return realtime.Ack{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return realtime.Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token())
	if msg.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", msg.CorrelationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return realtime.Ack{}, fmt.Errorf("rest %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return realtime.Ack{}, fmt.Errorf("rest %s: status %d", path, resp.StatusCode)
	}
	var ack contracts.AckData
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return realtime.Ack{}, fmt.Errorf("rest %s: status %d: decode ack: %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		ack.Success = false
	}

	c.log.Debug(ctx, "rest_sent", "event sent over degraded transport", map[string]any{
		"event":   msg.Event,
		"status":  resp.StatusCode,
		"success": ack.Success,
	})
	return realtime.Ack{Success: ack.Success, Message: ack.Message}, nil
}

func requestFor(msg realtime.Message) (string, any, error) {
	switch {
	case contracts.IsLocationEvent(msg.Event):
		var p contracts.LocationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("rest: decode %s: %w: %w", msg.Event, realtime.ErrMalformed, err)
		}
		return "/v1/locations", contracts.LocationRequest{Event: msg.Event, LocationPayload: p}, nil
	case contracts.IsReplyEvent(msg.Event):
		var p contracts.ReplyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("rest: decode %s: %w: %w", msg.Event, realtime.ErrMalformed, err)
		}
		return "/v1/replies", contracts.ReplyRequest{Event: msg.Event, ReplyPayload: p}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, msg.Event)
	}
}

var _ realtime.DegradedTransport = (*Client)(nil)
