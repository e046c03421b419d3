package jellyfin

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/lunikdev/JellyGrab/internal/transfer"
	"golang.org/x/oauth2"
)

const (
	clientName    = "JellyGrab"
	clientVersion = "1.0.0"
	userIDExtra   = "user_id"
	loginTimeout  = 15 * time.Second
)

// DeviceID derives a stable device identifier from the host.
func DeviceID() string {
	host, _ := os.Hostname()
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%s", host, runtime.GOOS, runtime.GOARCH)))

	return hex.EncodeToString(sum[:])
}

func authorizationHeader(deviceID string) string {
	return fmt.Sprintf(`MediaBrowser Client="%s", Device="Go", DeviceId="%s", Version="%s"`,
		clientName, deviceID, clientVersion)
}

// loginSource exchanges username and password for an access token. Jellyfin
// tokens do not expire, so a ReuseTokenSource around it logs in once.
type loginSource struct {
	httpClient *http.Client
	endpoint   string
	username   string
	password   string
	deviceID   string
}

func newLoginTokenSource(httpClient *http.Client, base *url.URL, username, password, deviceID string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &loginSource{
		httpClient: httpClient,
		endpoint:   base.JoinPath("Users", "authenticatebyname").String(),
		username:   username,
		password:   password,
		deviceID:   deviceID,
	})
}

func (s *loginSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	body, err := json.Marshal(authenticateRequest{Username: s.username, Pw: s.password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Emby-Authorization", authorizationHeader(s.deviceID))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &transfer.TransportError{Operation: "login", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("login", resp)
	}

	var out authenticateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	if out.AccessToken == "" || out.User.ID == "" {
		return nil, &transfer.AuthenticationError{Operation: "login", Err: fmt.Errorf("server returned no access token")}
	}

	tok := &oauth2.Token{AccessToken: out.AccessToken, TokenType: "MediaBrowser"}

	return tok.WithExtra(map[string]any{userIDExtra: out.User.ID}), nil
}

// tokenTransport attaches Jellyfin credentials to every request.
type tokenTransport struct {
	base     http.RoundTripper
	source   oauth2.TokenSource
	deviceID string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}

		return nil, err
	}

	r := req.Clone(req.Context())
	r.Header.Set("X-Emby-Token", tok.AccessToken)
	r.Header.Set("X-Emby-Authorization", authorizationHeader(t.deviceID))

	return t.base.RoundTrip(r)
}
