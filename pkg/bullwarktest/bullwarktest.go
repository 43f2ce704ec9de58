// Package bullwarktest runs an in-process fake of the Bullwark API for tests
// and local development. It issues real signed tokens, publishes its keys as
// a JWKS and can be told to fail, rotate keys or change a user's profile.
package bullwarktest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
	"github.com/aussiebroadwan/bullwark/pkg/cryptox"
	"github.com/aussiebroadwan/bullwark/pkg/httpx"
	"github.com/aussiebroadwan/bullwark/pkg/idx"
	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

// Endpoint names a route of the fake, for counters and failure injection.
type Endpoint string

const (
	EndpointLogin   Endpoint = bullwark.AuthPathPrefix + "/login"
	EndpointRefresh Endpoint = bullwark.AuthPathPrefix + "/refresh"
	EndpointLogout  Endpoint = bullwark.AuthPathPrefix + "/logout"
	EndpointMe      Endpoint = bullwark.AuthPathPrefix + "/me"
	EndpointJWKS    Endpoint = "/.well-known/jwks"
)

// RefreshCookie is the HTTP-only cookie that carries the refresh token in
// cookie mode.
const RefreshCookie = "bullwark_refresh"

// DefaultTokenTTL is how long issued access tokens live.
const DefaultTokenTTL = 15 * time.Minute

// UserSpec describes a user to seed.
type UserSpec struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	IsAdmin   bool
	Roles     []bullwark.Role
	Abilities []bullwark.Ability

	// TOTPSecret enables a second factor. Login then needs a valid code.
	TOTPSecret string
}

type account struct {
	profile      bullwark.User
	passwordHash string
	totpSecret   string
	detailsHash  string
}

type issued struct {
	userUUID string
	expires  time.Time
}

type failure struct {
	status int
	code   string
}

// Fake is the fake Bullwark API as an http.Handler. Use Start in tests; the
// development server mounts a Fake directly.
type Fake struct {
	tenantUUID string
	issuer     string
	audience   []string
	now        func() time.Time
	logger     *slog.Logger
	rateLimit  rate.Limit
	algorithm  string

	mu        sync.Mutex
	signer    *jwtx.Signer
	published []jwtx.JWK
	tokenTTL  time.Duration
	accounts  map[string]*account // by email
	byUUID    map[string]*account
	access    map[string]issued // by token fingerprint
	refresh   map[string]string // refresh token fingerprint -> user uuid
	queued    []string
	failures  map[Endpoint]failure
	calls     map[Endpoint]int

	handler http.Handler
}

type Option func(*Fake)

// WithTenant fixes the tenant UUID. By default a random one is used.
func WithTenant(tenantUUID string) Option { return func(f *Fake) { f.tenantUUID = tenantUUID } }

// WithTokenTTL sets the lifetime of issued access tokens.
func WithTokenTTL(d time.Duration) Option { return func(f *Fake) { f.tokenTTL = d } }

// WithClock overrides time.Now for token issuance and expiry.
func WithClock(now func() time.Time) Option { return func(f *Fake) { f.now = now } }

func WithLogger(l *slog.Logger) Option { return func(f *Fake) { f.logger = l } }

// WithIssuer overrides the iss and aud claims of issued tokens.
func WithIssuer(issuer string, audience ...string) Option {
	return func(f *Fake) {
		f.issuer = issuer
		f.audience = audience
	}
}

// WithAlgorithm selects the signing algorithm for generated keys: EdDSA
// (default), ES256 or RS256.
func WithAlgorithm(alg string) Option { return func(f *Fake) { f.algorithm = alg } }

// WithRateLimit limits each client IP to rps requests per second.
func WithRateLimit(rps float64) Option { return func(f *Fake) { f.rateLimit = rate.Limit(rps) } }

// NewFake builds a fake with a fresh Ed25519 signing key.
func NewFake(opts ...Option) (*Fake, error) {
	f := &Fake{
		tenantUUID: uuid.NewString(),
		issuer:     jwtx.DefaultIssuer,
		audience:   []string{jwtx.DefaultAudience},
		now:        time.Now,
		logger:     slogx.Discard(),
		algorithm:  "EdDSA",
		tokenTTL:   DefaultTokenTTL,
		accounts:   make(map[string]*account),
		byUUID:     make(map[string]*account),
		access:     make(map[string]issued),
		refresh:    make(map[string]string),
		failures:   make(map[Endpoint]failure),
		calls:      make(map[Endpoint]int),
	}
	for _, opt := range opts {
		opt(f)
	}

	if _, err := f.RotateKey(false); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+string(EndpointLogin), f.handleLogin)
	mux.HandleFunc("POST "+string(EndpointRefresh), f.handleRefresh)
	mux.HandleFunc("POST "+string(EndpointLogout), f.handleLogout)
	mux.HandleFunc("GET "+string(EndpointMe), f.handleMe)
	mux.HandleFunc("GET "+string(EndpointJWKS), f.handleJWKS)

	mws := []httpx.Middleware{slogx.HTTPMiddleware(f.logger)}
	if f.rateLimit > 0 {
		mws = append(mws, httpx.RateLimitByIP(f.rateLimit, int(f.rateLimit)+1))
	}
	f.handler = httpx.Chain(mux, mws...)

	return f, nil
}

func (f *Fake) ServeHTTP(w http.ResponseWriter, r *http.Request) { f.handler.ServeHTTP(w, r) }

// TenantUUID is the tenant the fake expects in X-Tenant-Uuid.
func (f *Fake) TenantUUID() string { return f.tenantUUID }

// ============================================================================
// Fixtures
// ============================================================================

// AddUser seeds a user and returns its profile.
func (f *Fake) AddUser(spec UserSpec) (*bullwark.User, error) {
	hash, err := cryptox.HashPassword(spec.Password)
	if err != nil {
		return nil, fmt.Errorf("bullwarktest: hash password: %w", err)
	}
	detailsHash, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, err
	}

	a := &account{
		profile: bullwark.User{
			UUID:       uuid.NewString(),
			Email:      spec.Email,
			FirstName:  spec.FirstName,
			LastName:   spec.LastName,
			TenantUUID: f.tenantUUID,
			IsAdmin:    spec.IsAdmin,
			Roles:      slices.Clone(spec.Roles),
			Abilities:  slices.Clone(spec.Abilities),
		},
		passwordHash: hash,
		totpSecret:   spec.TOTPSecret,
		detailsHash:  detailsHash,
	}
	if len(a.profile.Roles) > 0 {
		r := a.profile.Roles[0]
		a.profile.PrimaryRole = &r
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.accounts[spec.Email]; exists {
		return nil, fmt.Errorf("bullwarktest: user %q already exists", spec.Email)
	}
	f.accounts[spec.Email] = a
	f.byUUID[a.profile.UUID] = a
	return a.profile.Clone(), nil
}

// UpdateUser edits a user's profile and changes its details hash, the way
// Bullwark does when roles or abilities change.
func (f *Fake) UpdateUser(email string, edit func(*bullwark.User)) error {
	detailsHash, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[email]
	if !ok {
		return fmt.Errorf("bullwarktest: no user %q", email)
	}
	edit(&a.profile)
	a.detailsHash = detailsHash
	return nil
}

// DetailsHash is the current details hash of a user.
func (f *Fake) DetailsHash(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		return a.detailsHash
	}
	return ""
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (f *Fake) SetTokenTTL(d time.Duration) {
	f.mu.Lock()
	f.tokenTTL = d
	f.mu.Unlock()
}

// RotateKey switches to a new signing key and returns its kid. With
// keepOld the previous key stays in the published JWKS.
func (f *Fake) RotateKey(keepOld bool) (string, error) {
	pemKey, err := generateKey(f.algorithm)
	if err != nil {
		return "", fmt.Errorf("bullwarktest: generate key: %w", err)
	}
	signer, err := jwtx.NewSigner(idx.New().String(), pemKey)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !keepOld {
		f.published = nil
	}
	f.published = append(f.published, signer.PublicJWK())
	f.signer = signer
	return signer.KID(), nil
}

func generateKey(alg string) ([]byte, error) {
	switch alg {
	case "", "EdDSA":
		return cryptox.GenerateEd25519Key()
	case "ES256":
		return cryptox.GenerateES256Key()
	case "RS256":
		return cryptox.GenerateRSAKey(2048)
	}
	return nil, fmt.Errorf("unsupported algorithm %q", alg)
}

// RetireKeys drops all but the newest keep published keys and returns how
// many were dropped. The current signing key is never dropped.
func (f *Fake) RetireKeys(keep int) int {
	keep = max(keep, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	drop := len(f.published) - keep
	if drop <= 0 {
		return 0
	}
	f.published = slices.Clone(f.published[drop:])
	return drop
}

// PurgeExpired forgets issued access tokens that have expired and returns how
// many were removed.
func (f *Fake) PurgeExpired() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	n := 0
	for fp, tok := range f.access {
		if now.After(tok.expires) {
			delete(f.access, fp)
			n++
		}
	}
	return n
}

// KID is the kid of the current signing key.
func (f *Fake) KID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signer.KID()
}

// Claims returns session claims for a user as the fake would issue them.
func (f *Fake) Claims(email string, ttl time.Duration) (jwtx.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[email]
	if !ok {
		return jwtx.Claims{}, fmt.Errorf("bullwarktest: no user %q", email)
	}
	return f.claimsLocked(a, ttl), nil
}

// Sign signs arbitrary claims with the current key under kid. The token is
// accepted by /me and /logout as if it had been issued.
func (f *Fake) Sign(claims jwtx.Claims, kid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok, err := f.signer.SignWithKID(claims, kid)
	if err != nil {
		return "", err
	}
	exp, _ := claims.Expiry()
	f.access[cryptox.FingerprintToken(tok)] = issued{userUUID: claims.UserUUID, expires: exp}
	return tok, nil
}

// MintToken issues an access token for a user directly. A negative ttl
// gives an already expired token.
func (f *Fake) MintToken(email string, ttl time.Duration) (string, error) {
	claims, err := f.Claims(email, ttl)
	if err != nil {
		return "", err
	}
	return f.Sign(claims, f.KID())
}

// QueueToken makes the next login or refresh answer with tok instead of a
// freshly issued token.
func (f *Fake) QueueToken(tok string) {
	f.mu.Lock()
	f.queued = append(f.queued, tok)
	f.mu.Unlock()
}

// Fail makes endpoint answer with status until Recover is called.
func (f *Fake) Fail(endpoint Endpoint, status int) {
	f.mu.Lock()
	f.failures[endpoint] = failure{status: status, code: "server_error"}
	f.mu.Unlock()
}

func (f *Fake) Recover(endpoint Endpoint) {
	f.mu.Lock()
	delete(f.failures, endpoint)
	f.mu.Unlock()
}

// Calls is how many requests endpoint has received.
func (f *Fake) Calls(endpoint Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// RevokeSessions drops every refresh token, as a server side logout of all
// devices would.
func (f *Fake) RevokeSessions() {
	f.mu.Lock()
	clear(f.refresh)
	f.mu.Unlock()
}

// ============================================================================
// Handlers
// ============================================================================

func (f *Fake) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !f.begin(w, r, EndpointLogin) {
		return
	}

	var creds bullwark.LoginCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	f.mu.Lock()
	a, ok := f.accounts[creds.Email]
	f.mu.Unlock()

	// Same answer for unknown users and wrong passwords.
	if !ok || cryptox.VerifyPassword(creds.Password, a.passwordHash) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	if a.totpSecret != "" {
		if creds.OTP == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "otp_required", "one time password required")
			return
		}
		if !totp.Validate(creds.OTP, a.totpSecret) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_otp", "invalid one time password")
			return
		}
	}

	f.issue(w, r, a)
}

func (f *Fake) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !f.begin(w, r, EndpointRefresh) {
		return
	}

	presented := r.Header.Get(bullwark.HeaderRefreshToken)
	if presented == "" {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			presented = c.Value
		}
	}
	if presented == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "refresh token missing")
		return
	}

	f.mu.Lock()
	fp := cryptox.FingerprintToken(presented)
	userUUID, ok := f.refresh[fp]
	if ok {
		// Refresh tokens are single use.
		delete(f.refresh, fp)
	}
	a := f.byUUID[userUUID]
	f.mu.Unlock()

	if !ok || a == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "refresh token invalid or expired")
		return
	}

	f.issue(w, r, a)
}

func (f *Fake) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !f.begin(w, r, EndpointLogout) {
		return
	}

	// Without a bearer token only the refresh cookie, if any, is revoked.
	if _, hasBearer := httpx.BearerToken(r); !hasBearer {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			f.mu.Lock()
			delete(f.refresh, cryptox.FingerprintToken(c.Value))
			f.mu.Unlock()
		}
		http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Path: "/", MaxAge: -1, HttpOnly: true})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a, ok := f.authenticate(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	for fp, userUUID := range f.refresh {
		if userUUID == a.profile.UUID {
			delete(f.refresh, fp)
		}
	}
	tok, _ := httpx.BearerToken(r)
	delete(f.access, cryptox.FingerprintToken(tok))
	f.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

func (f *Fake) handleMe(w http.ResponseWriter, r *http.Request) {
	if !f.begin(w, r, EndpointMe) {
		return
	}

	a, ok := f.authenticate(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	profile := a.profile.Clone()
	f.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, profile)
}

func (f *Fake) handleJWKS(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[EndpointJWKS]++
	fail, failing := f.failures[EndpointJWKS]
	set := jwtx.JWKS{Keys: slices.Clone(f.published)}
	f.mu.Unlock()

	if failing {
		httpx.WriteError(w, fail.status, fail.code, "injected failure")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, set)
}

// begin counts the call, applies injected failures and checks the tenant.
func (f *Fake) begin(w http.ResponseWriter, r *http.Request, endpoint Endpoint) bool {
	f.mu.Lock()
	f.calls[endpoint]++
	fail, failing := f.failures[endpoint]
	f.mu.Unlock()

	if failing {
		httpx.WriteError(w, fail.status, fail.code, "injected failure")
		return false
	}
	if r.Header.Get(bullwark.HeaderTenantUUID) != f.tenantUUID {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_tenant", "unknown tenant")
		return false
	}
	return true
}

func (f *Fake) authenticate(w http.ResponseWriter, r *http.Request) (*account, bool) {
	tok, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
		return nil, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	iss, ok := f.access[cryptox.FingerprintToken(tok)]
	if !ok || !f.now().Before(iss.expires) {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "token invalid or expired")
		return nil, false
	}
	a, ok := f.byUUID[iss.userUUID]
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "unknown user")
		return nil, false
	}
	return a, true
}

// issue answers login and refresh. With ?plainRefresh=true the refresh token
// is in the body, otherwise it is set as an HTTP-only cookie.
func (f *Fake) issue(w http.ResponseWriter, r *http.Request, a *account) {
	l := slogx.FromContext(r.Context())

	refreshToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		l.Error("failed to generate refresh token", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	f.mu.Lock()
	var tok string
	if len(f.queued) > 0 {
		tok, f.queued = f.queued[0], f.queued[1:]
	} else {
		claims := f.claimsLocked(a, f.tokenTTL)
		tok, err = f.signer.Sign(claims)
		if err == nil {
			f.access[cryptox.FingerprintToken(tok)] = issued{userUUID: a.profile.UUID, expires: claims.ExpiresAt.Time}
		}
	}
	f.refresh[cryptox.FingerprintToken(refreshToken)] = a.profile.UUID
	f.mu.Unlock()

	if err != nil {
		l.Error("failed to sign token", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	resp := bullwark.TokenResponse{Token: tok}
	if r.URL.Query().Get("plainRefresh") == "true" {
		resp.RefreshToken = refreshToken
	} else {
		http.SetCookie(w, &http.Cookie{
			Name:     RefreshCookie,
			Value:    refreshToken,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// claimsLocked embeds the profile so the token also works with
// ProfileFromClaims. Requires f.mu.
func (f *Fake) claimsLocked(a *account, ttl time.Duration) jwtx.Claims {
	p := a.profile
	c := jwtx.NewSessionClaims(p.UUID, p.TenantUUID, p.CustomerUUID, a.detailsHash, ttl, f.issuer, f.audience, f.now())
	c.ID = idx.New().String()
	c.Email = p.Email
	c.FirstName = p.FirstName
	c.LastName = p.LastName
	c.IsAdmin = p.IsAdmin
	for _, r := range p.Roles {
		c.Roles = append(c.Roles, jwtx.Grant(r))
	}
	for _, ab := range p.Abilities {
		c.Abilities = append(c.Abilities, jwtx.Grant(ab))
	}
	return c
}

// ============================================================================
// Test server
// ============================================================================

// Server is a Fake listening on a local httptest server.
type Server struct {
	*Fake

	URL string
	srv *httptest.Server
}

// Start runs a fake for the duration of the test.
func Start(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	f, err := NewFake(opts...)
	if err != nil {
		tb.Fatalf("bullwarktest: %v", err)
	}

	srv := httptest.NewServer(f)
	tb.Cleanup(srv.Close)

	return &Server{Fake: f, URL: srv.URL, srv: srv}
}

// Close stops the listener. Requests fail with connection errors afterwards.
func (s *Server) Close() { s.srv.Close() }

// ClientConfig is a client config pointed at this server.
func (s *Server) ClientConfig() bullwark.Config {
	cfg := bullwark.DefaultConfig()
	cfg.APIBaseURL = s.URL
	cfg.TenantIdentifier = s.tenantUUID
	return cfg
}

// MustAddUser is AddUser that fails the test on error.
func (s *Server) MustAddUser(tb testing.TB, spec UserSpec) *bullwark.User {
	tb.Helper()
	u, err := s.AddUser(spec)
	if err != nil {
		tb.Fatalf("bullwarktest: %v", err)
	}
	return u
}
