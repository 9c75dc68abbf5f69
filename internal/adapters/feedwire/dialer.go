// Package feedwire connects to the broker's streaming market-data API: an
// HTTP authorize call that mints a single-use websocket URL, then a
// websocket session carrying JSON-encoded feed frames.
package feedwire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"optionsim/internal/ports"
)

const authorizePath = "/feed/market-data-feed/authorize"

// Dialer implements ports.FeedDialer. Every Dial re-runs the authorize call
// because the returned websocket URL is single-use.
type Dialer struct {
	apiBase     string
	accessToken func() string
	httpClient  *http.Client
	wsDialer    *websocket.Dialer
	logger      ports.Logger
	mode        Mode
}

// Config holds configuration for the feed dialer.
type Config struct {
	// APIBase is the broker REST base URL, e.g. "https://api.upstox.com/v3".
	APIBase string
	// AccessToken returns the current bearer token. It is a func so a token
	// refresh elsewhere takes effect on the next reconnect.
	AccessToken func() string
	Logger      ports.Logger
	// Mode selects the subscription payload format; defaults to full.
	Mode Mode
}

// NewDialer creates a feed dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("APIBase is required for feed dialer")
	}
	if cfg.AccessToken == nil {
		return nil, fmt.Errorf("AccessToken provider is required for feed dialer")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for feed dialer")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeFull
	}
	return &Dialer{
		apiBase:     cfg.APIBase,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		wsDialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:      cfg.Logger,
		mode:        mode,
	}, nil
}

type authorizeResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
	} `json:"data"`
}

// Dial authorizes and opens a streaming connection.
func (d *Dialer) Dial(ctx context.Context) (ports.FeedConn, error) {
	wsURL, err := d.authorize(ctx)
	if err != nil {
		return nil, err
	}

	// The authorized URL already embeds auth; extra headers break the handshake.
	ws, _, err := d.wsDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w (%w)", err, ports.ErrConnectionFailed)
	}
	d.logger.Info(ctx, "Feed websocket connected", map[string]interface{}{"mode": string(d.mode)})

	return newConn(ws, d.mode, d.logger), nil
}

// authorize fetches the single-use websocket URL.
func (d *Dialer) authorize(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiBase+authorizePath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build authorize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.accessToken())
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize request failed: %w (%w)", err, ports.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusUnauthorized:
		return "", fmt.Errorf("authorize returned 401: %w", ports.ErrTokenInvalid)
	case http.StatusForbidden:
		// The token still works for REST; only streaming entitlement is missing.
		return "", fmt.Errorf("authorize returned 403: %w", ports.ErrFeedEntitlement)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("authorize returned %d: %s: %w", resp.StatusCode, string(body), ports.ErrConnectionFailed)
	}

	var parsed authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode authorize response: %w", err)
	}
	if parsed.Status != "success" || parsed.Data.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("authorize response not successful (status=%q): %w", parsed.Status, ports.ErrConnectionFailed)
	}
	return parsed.Data.AuthorizedRedirectURI, nil
}
