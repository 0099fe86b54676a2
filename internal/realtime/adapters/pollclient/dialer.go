// Package pollclient is the fallback channel transport: HTTP long-polling
// against the relay's poll session endpoints.
package pollclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"transit-sync/internal/general/logger"
	"transit-sync/internal/realtime"
)

const (
	defaultWait        = 25 * time.Second
	defaultRetryPause  = time.Second
	maxConsecutiveFail = 3
)

type Config struct {
	// BaseURL is the relay HTTP root, e.g. http://localhost:3000.
	BaseURL    string
	HTTPClient *http.Client
	// Wait is how long the relay may hold one poll open.
	Wait   time.Duration
	Logger *logger.Logger
}

// Dialer opens long-poll channels.
type Dialer struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Dialer {
	if cfg.Wait <= 0 {
		cfg.Wait = defaultWait
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Wait + 10*time.Second}
	}
	return &Dialer{cfg: cfg, http: hc}
}

func (d *Dialer) Kind() realtime.TransportKind { return realtime.TransportPolling }

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// Dial opens a poll session and starts polling it.
func (d *Dialer) Dial(ctx context.Context, creds realtime.Credentials) (realtime.Channel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/v1/poll/sessions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll session: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: poll session status %d", realtime.ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("poll session: unexpected status %d", resp.StatusCode)
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil || sr.SessionID == "" {
		return nil, fmt.Errorf("poll session: bad response: %v", err)
	}

	ch := newChannel(d, creds.Token, sr.SessionID)
	go ch.pollLoop()
	return ch, nil
}

func (d *Dialer) sessionURL(id, suffix string) string {
	return d.cfg.BaseURL + "/v1/poll/sessions/" + id + suffix
}

func (d *Dialer) do(ctx context.Context, method, url, token string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return d.http.Do(req)
}

var _ realtime.Dialer = (*Dialer)(nil)
