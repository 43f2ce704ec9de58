package bullwark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"

	"github.com/aussiebroadwan/bullwark/pkg/httpx"
	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

// Request headers understood by the Bullwark API.
const (
	HeaderTenantUUID   = "X-Tenant-Uuid"
	HeaderCustomerUUID = "X-Customer-Uuid"
	HeaderRefreshToken = "X-Refresh-Token"
)

// AuthPathPrefix is where the auth routes live under APIBaseURL. The key set
// is served from the API root instead, see Config.JWKSURL.
const AuthPathPrefix = "/api/auth/v1"

// HTTPTransport is the Transport for the Bullwark HTTP API.
type HTTPTransport struct {
	baseURL      string
	jwksURL      string
	tenantUUID   string
	customerUUID string
	cookieMode   bool

	HTTPClient *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport builds a transport for a validated config. httpClient may
// be nil. In cookie mode the client gets a cookie jar, unless it already
// has one, so the refresh cookie set by login is sent back on refresh.
func NewHTTPTransport(cfg Config, httpClient *http.Client, logger *slog.Logger) (*HTTPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var client http.Client
	if httpClient != nil {
		client = *httpClient
	} else {
		client.Timeout = cfg.HTTPTimeout
	}

	client.Transport = slogx.NewRoundTripper(logger,
		httpx.NewRateLimitedTransport(client.Transport, cfg.RequestsPerSecond, 1))

	if cfg.UseCookieForRefresh && client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("bullwark: cookie jar: %w", err)
		}
		client.Jar = jar
	}

	return &HTTPTransport{
		baseURL:      cfg.APIBaseURL,
		jwksURL:      cfg.JWKSURL,
		tenantUUID:   cfg.TenantIdentifier,
		customerUUID: cfg.CustomerIdentifier,
		cookieMode:   cfg.UseCookieForRefresh,
		HTTPClient:   &client,
	}, nil
}

func (t *HTTPTransport) authURL(path string) string {
	return t.baseURL + AuthPathPrefix + path
}

func (t *HTTPTransport) tokenURL(path string) string {
	if t.cookieMode {
		return t.authURL(path)
	}
	return t.authURL(path) + "?plainRefresh=true"
}

func (t *HTTPTransport) Login(ctx context.Context, creds LoginCredentials) (TokenResponse, error) {
	if creds.Email == "" {
		return TokenResponse{}, newError(KindInvalidInput, "email missing", nil)
	}
	if creds.Password == "" {
		return TokenResponse{}, newError(KindInvalidInput, "password missing", nil)
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("bullwark: encode credentials: %w", err)
	}

	resp, err := t.do(ctx, http.MethodPost, t.tokenURL("/login"), bytes.NewReader(body), nil)
	if err != nil {
		return TokenResponse{}, err
	}

	var out TokenResponse
	if err := decodeJSON(resp, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return TokenResponse{}, newError(KindInvalidCredentials, "", apiErr)
		}
		return TokenResponse{}, connectivity("login", err)
	}
	if out.Token == "" {
		return TokenResponse{}, newError(KindConnectivity, "incorrect response from Bullwark", nil)
	}
	return out, nil
}

func (t *HTTPTransport) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	headers := map[string]string{}
	if refreshToken != "" {
		headers[HeaderRefreshToken] = refreshToken
	}

	resp, err := t.do(ctx, http.MethodPost, t.tokenURL("/refresh"), nil, headers)
	if err != nil {
		return TokenResponse{}, err
	}

	var out TokenResponse
	if err := decodeJSON(resp, &out); err != nil {
		return TokenResponse{}, connectivity("refresh", err)
	}
	if out.Token == "" {
		return TokenResponse{}, newError(KindConnectivity, "incorrect response from Bullwark", nil)
	}
	return out, nil
}

func (t *HTTPTransport) Logout(ctx context.Context, token string) error {
	resp, err := t.do(ctx, http.MethodPost, t.authURL("/logout"), nil, bearer(token))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return connectivity("logout", parseErrorResponse(resp.StatusCode, body))
	}
	return nil
}

func (t *HTTPTransport) FetchUser(ctx context.Context, token string) (*User, error) {
	resp, err := t.do(ctx, http.MethodGet, t.authURL("/me"), nil, bearer(token))
	if err != nil {
		return nil, err
	}

	var u User
	if err := decodeJSON(resp, &u); err != nil {
		return nil, connectivity("fetch user", err)
	}
	return &u, nil
}

func (t *HTTPTransport) FetchKeySet(ctx context.Context) (jwtx.JWKS, error) {
	resp, err := t.do(ctx, http.MethodGet, t.jwksURL, nil, nil)
	if err != nil {
		return jwtx.JWKS{}, err
	}

	var set jwtx.JWKS
	if err := decodeJSON(resp, &set); err != nil {
		return jwtx.JWKS{}, connectivity("fetch key set", err)
	}
	return set, nil
}

// do sends a request with the tenant headers. Transport level failures come
// back as KindConnectivity.
func (t *HTTPTransport) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("bullwark: create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenantUUID, t.tenantUUID)
	if t.customerUUID != "" {
		req.Header.Set(HeaderCustomerUUID, t.customerUUID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, newError(KindConnectivity, "couldn't connect to Bullwark", err)
	}
	return resp, nil
}

func bearer(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func connectivity(op string, err error) error {
	return newError(KindConnectivity, op, err)
}

// decodeJSON reads the body once, returning an *APIError for non-2xx
// responses.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("incorrect response from Bullwark: %w", err)
	}
	return nil
}
