// Package jellyfin is a small Jellyfin API client. It browses libraries and
// implements transfer.Source so episodes and movies can be downloaded.
package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lunikdev/JellyGrab/internal/telemetry"
	"github.com/lunikdev/JellyGrab/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const defaultTimeout = 20 * time.Second

// Config holds connection settings. Either Username/Password or APIKey with
// UserID must be set.
type Config struct {
	URL      string
	Username string
	Password string
	APIKey   string
	UserID   string
	DeviceID string
	// Timeout bounds metadata requests. Streams are bounded only by their context.
	Timeout time.Duration
	// Transport is the base round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client talks to one Jellyfin server on behalf of one user.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     oauth2.TokenSource
	userID     string
	timeout    time.Duration
	telemetry  *telemetry.Telemetry
}

// NewClient validates cfg and returns a client. No request is made until the
// first call; password logins happen lazily and are cached.
func NewClient(cfg Config, tel *telemetry.Telemetry) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("jellyfin url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid jellyfin url: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid jellyfin url %q: scheme must be http or https", cfg.URL)
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = DeviceID()
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	baseTransport := cfg.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	instrumented := otelhttp.NewTransport(baseTransport)

	var tokens oauth2.TokenSource

	switch {
	case cfg.APIKey != "":
		if cfg.UserID == "" {
			return nil, errors.New("jellyfin user id is required when using an api key")
		}

		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "MediaBrowser"})
	case cfg.Username != "":
		tokens = newLoginTokenSource(&http.Client{Transport: instrumented}, base, cfg.Username, cfg.Password, cfg.DeviceID)
	default:
		return nil, errors.New("jellyfin credentials are required: username/password or api key")
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: &tokenTransport{base: instrumented, source: tokens, deviceID: cfg.DeviceID},
		},
		tokens:    tokens,
		userID:    cfg.UserID,
		timeout:   cfg.Timeout,
		telemetry: tel,
	}, nil
}

// Authenticate forces the login round trip and returns the user id.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var userID string

	err := c.telemetry.InstrumentCatalogOperation(ctx, "authenticate", func(ctx context.Context) error {
		var err error
		userID, err = c.currentUserID()

		return err
	})

	return userID, err
}

func (c *Client) currentUserID() (string, error) {
	if c.userID != "" {
		return c.userID, nil
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return "", err
	}

	id, _ := tok.Extra(userIDExtra).(string)
	if id == "" {
		return "", &transfer.AuthenticationError{Operation: "login", Err: errors.New("user id missing from session")}
	}

	return id, nil
}

// getJSON issues a GET against path segments and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, op string, query url.Values, out any, segments ...string) error {
	return c.telemetry.InstrumentCatalogOperation(ctx, op, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		u := c.baseURL.JoinPath(segments...)
		u.RawQuery = query.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			var ae *transfer.AuthenticationError
			if errors.As(err, &ae) {
				return ae
			}

			return &transfer.TransportError{Operation: op, Message: err.Error(), Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusError(op, resp)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}

		return nil
	})
}

// statusError maps a non-success response to a typed error.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &transfer.AuthenticationError{
			Operation: op,
			Err:       &transfer.TransportError{Operation: op, StatusCode: resp.StatusCode, Message: msg},
		}
	}

	return &transfer.TransportError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
}
