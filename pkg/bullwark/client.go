package bullwark

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/cryptox"
	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

// almostExpiredThreshold is the window in which TokenAlmostExpired is true.
const almostExpiredThreshold = 5 * time.Minute

// Client is a Bullwark session. It is safe for concurrent use, but Login,
// Refresh and Logout are not serialized against each other: a result that
// arrives after the session was torn down is discarded with
// KindSessionSuperseded.
type Client struct {
	cfg       Config
	transport Transport
	store     storage.Storage
	keys      *KeySetCache
	verifier  *TokenVerifier
	state     *SessionState
	scheduler *RefreshScheduler
	events    *Emitter
	logger    *slog.Logger
	now       func() time.Time

	hydrated  chan struct{}
	stopWatch context.CancelFunc
	closeOnce sync.Once

	// closed stops arm from starting the scheduler once Close has run.
	mu     sync.Mutex
	closed bool
}

// ============================================================================
// Options
// ============================================================================

type options struct {
	transport  Transport
	store      storage.Storage
	sig        SignatureVerifier
	noSig      bool
	logger     *slog.Logger
	now        func() time.Time
	httpClient *http.Client
	errorSink  func(error)
	handlers   []subscriber
}

type Option func(*options)

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option { return func(o *options) { o.transport = t } }

// WithStorage sets where the session is persisted. Defaults to memory.
func WithStorage(s storage.Storage) Option { return func(o *options) { o.store = s } }

// WithSignatureVerifier replaces the golang-jwt signature primitive.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(o *options) { o.sig = v }
}

// WithoutSignatureVerification runs without a signature primitive. New
// refuses it unless DevelopmentMode is set.
func WithoutSignatureVerification() Option { return func(o *options) { o.noSig = true } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides time.Now for expiry arithmetic.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithHTTPClient is the base client for the default transport.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithErrorSink receives errors from background refreshes.
func WithErrorSink(fn func(error)) Option { return func(o *options) { o.errorSink = fn } }

// WithHandler subscribes fn before startup hydration begins, so it sees
// userHydrated and bullwarkLoaded.
func WithHandler(event Event, fn Handler) Option {
	return func(o *options) { o.handlers = append(o.handlers, subscriber{event: event, fn: fn}) }
}

// ============================================================================
// Construction and startup
// ============================================================================

// New validates cfg, restores any persisted session and starts hydrating it
// in the background. Use WaitInitialized to block until that is done.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{sig: jwtx.NewSignatureVerifier()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.noSig {
		o.sig = nil
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.store == nil {
		o.store = storage.NewMemory()
	}
	if o.transport == nil {
		t, err := NewHTTPTransport(cfg, o.httpClient, o.logger)
		if err != nil {
			return nil, err
		}
		o.transport = t
	}

	keys := NewKeySetCache(o.transport, cfg.KeySetCacheTTL)
	keys.now = o.now
	keys.logger = o.logger

	verifier, err := NewTokenVerifier(keys, o.sig,
		jwtx.Constraints{Issuer: cfg.Issuer, Audience: cfg.Audience},
		cfg.DevelopmentMode, o.logger)
	if err != nil {
		return nil, err
	}

	state := NewSessionState(o.store, cfg.UseCookieForRefresh, o.logger)
	state.now = o.now

	c := &Client{
		cfg:       cfg,
		transport: o.transport,
		store:     o.store,
		keys:      keys,
		verifier:  verifier,
		state:     state,
		events:    NewEmitter(o.logger),
		logger:    o.logger,
		now:       o.now,
		hydrated:  make(chan struct{}),
	}

	for _, h := range o.handlers {
		c.events.On(h.event, h.fn)
	}

	c.scheduler = NewRefreshScheduler(c.backgroundRefresh, cfg.RefreshCheckInterval, o.logger)
	c.scheduler.now = o.now
	c.scheduler.SetErrorSink(o.errorSink)

	c.watchStorage(ctx)

	token, ok := state.Restore(ctx)
	epoch := state.Epoch()
	go c.hydrateOnStartup(context.WithoutCancel(ctx), epoch, token, ok)

	return c, nil
}

// WaitInitialized blocks until startup hydration has finished, including
// its events.
func (c *Client) WaitInitialized(ctx context.Context) error {
	select {
	case <-c.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hydrateOnStartup runs against the epoch read when the session was
// restored, so a Login racing the start of the goroutine wins.
func (c *Client) hydrateOnStartup(ctx context.Context, epoch uint64, token string, ok bool) {
	defer close(c.hydrated)

	if ok {
		c.hydrateFromToken(ctx, epoch, token)
		return
	}
	c.hydrateFromRefresh(ctx, epoch)
}

// hydrateFromToken trusts a persisted token only after full verification.
// Any failure drops the session, there is no fallback to a refresh.
func (c *Client) hydrateFromToken(ctx context.Context, epoch uint64, token string) {
	fail := func(reason string, err error) {
		if c.cfg.DevelopmentMode {
			c.logger.Debug("stored session discarded", "reason", reason, "error", err)
		}
		c.state.InvalidateAt(ctx, epoch)
		c.state.MarkInitialized()
	}

	// An expired token is rejected before anything touches the network.
	if unverified, err := jwtx.DecodePayload(token); err != nil {
		fail("stored token is malformed", err)
		return
	} else if IsExpired(&unverified, c.now()) {
		fail("stored token has expired", nil)
		return
	}

	claims, err := c.verifier.Verify(ctx, token)
	if err != nil {
		fail("stored token is invalid", err)
		return
	}
	if IsExpired(claims, c.now()) {
		fail("stored token has expired", nil)
		return
	}

	user, err := c.loadProfile(ctx, claims, token)
	if err != nil {
		fail("unable to retrieve user details using stored token", err)
		return
	}

	if err := c.state.Commit(ctx, epoch, Update{Claims: claims, Token: token, Persist: true, User: user}); err != nil {
		c.state.MarkInitialized()
		return
	}
	c.finishHydration(user)
}

// hydrateFromRefresh tries one refresh. Failing is the normal cold start
// and is not reported.
func (c *Client) hydrateFromRefresh(ctx context.Context, epoch uint64) {
	if !c.cfg.UseCookieForRefresh {
		if _, ok := c.state.RefreshToken(); !ok {
			c.logger.Debug("no stored session or refresh token, starting clean")
			c.state.MarkInitialized()
			return
		}
	}

	user, err := c.refreshSession(ctx, epoch, "")
	if err != nil {
		c.logger.Debug("startup refresh failed, starting clean", "error", err)
		c.state.MarkInitialized()
		return
	}
	c.finishHydration(user)
}

func (c *Client) finishHydration(user *User) {
	c.state.MarkInitialized()
	c.events.Emit(EventUserHydrated, Payload{User: user})
	c.events.Emit(EventBullwarkLoaded, Payload{})
	c.arm()
}

// ============================================================================
// Lifecycle
// ============================================================================

// Login signs in with credentials. Any previous session is dropped first.
// A token that fails verification or is already expired is a fatal error.
func (c *Client) Login(ctx context.Context, creds LoginCredentials) (*User, error) {
	if creds.Email == "" {
		return nil, newError(KindInvalidInput, "email missing", nil)
	}
	if creds.Password == "" {
		return nil, newError(KindInvalidInput, "password missing", nil)
	}

	c.scheduler.Disarm()
	c.state.Invalidate(ctx)
	epoch := c.state.Epoch()

	resp, err := c.transport.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	claims, err := c.trust(ctx, epoch, "login", resp.Token)
	if err != nil {
		return nil, err
	}

	user, err := c.loadProfile(ctx, claims, resp.Token)
	if err != nil {
		return nil, err
	}

	err = c.state.Commit(ctx, epoch, Update{
		Claims:       claims,
		Token:        resp.Token,
		Persist:      true,
		User:         user,
		RefreshToken: resp.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	c.state.MarkInitialized()
	c.events.Emit(EventUserLoggedIn, Payload{User: user})
	c.arm()

	c.logger.Info("logged in", "user", claims.UserUUID, "token", cryptox.ShortFingerprint(resp.Token))
	return user.Clone(), nil
}

// Refresh exchanges the refresh token for a new access token. supplied
// overrides the held refresh token. A connectivity failure leaves the
// current session alone; a token that fails verification tears it down.
// The profile is only refetched when the token's details hash changed.
func (c *Client) Refresh(ctx context.Context, supplied string) (*User, error) {
	user, err := c.refreshSession(ctx, c.state.Epoch(), supplied)
	if err != nil {
		return nil, err
	}
	c.events.Emit(EventUserRefreshed, Payload{User: user})
	c.arm()
	return user, nil
}

func (c *Client) refreshSession(ctx context.Context, epoch uint64, supplied string) (*User, error) {
	refreshToken := supplied
	if refreshToken == "" && !c.cfg.UseCookieForRefresh {
		refreshToken, _ = c.state.RefreshToken()
	}

	resp, err := c.transport.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	claims, err := c.trust(ctx, epoch, "refresh", resp.Token)
	if err != nil {
		return nil, err
	}

	// nil keeps the cached profile.
	var user *User
	_, cached := c.state.User()
	if !cached || c.state.DetailsHashWouldChange(claims.DetailsHash) {
		user, err = c.loadProfile(ctx, claims, resp.Token)
		if err != nil {
			return nil, err
		}
	}

	err = c.state.Commit(ctx, epoch, Update{
		Claims:       claims,
		Token:        resp.Token,
		Persist:      true,
		User:         user,
		RefreshToken: resp.RefreshToken,
	})
	if err != nil {
		return nil, err
	}
	if c.state.DetailsHashChanged() {
		c.logger.Debug("user details changed server side, profile reloaded", "user", claims.UserUUID)
	}

	current, _ := c.state.User()
	return current, nil
}

func (c *Client) backgroundRefresh(ctx context.Context) error {
	_, err := c.Refresh(ctx, "")
	return err
}

// Logout ends the session server side and then locally. The local teardown
// always happens; a server failure is returned afterwards. An empty token
// logs out the current session. The server is called even without an access
// token, so a cookie held refresh token is still revoked.
func (c *Client) Logout(ctx context.Context, token string) error {
	if token == "" {
		token, _ = c.state.Token()
	}

	err := c.transport.Logout(ctx, token)

	c.scheduler.Disarm()
	c.state.Invalidate(ctx)
	c.events.Emit(EventUserLoggedOut, Payload{})

	if err != nil {
		c.logger.Warn("server logout failed, local session cleared", "error", err)
		return fmt.Errorf("bullwark: logout: %w", err)
	}
	return nil
}

// Close stops background work. The session itself is left as is. A
// hydration or refresh still running may finish, but never rearms the
// scheduler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.stopWatch != nil {
			c.stopWatch()
		}
		c.scheduler.Disarm()
		c.scheduler.Wait()
	})
	return nil
}

// trust verifies token and rejects it when it is expired. On failure the
// session is torn down, unless it was already replaced since epoch.
func (c *Client) trust(ctx context.Context, epoch uint64, op string, token string) (*jwtx.Claims, error) {
	claims, err := c.verifier.Verify(ctx, token)
	if err == nil && IsExpired(claims, c.now()) {
		err = newError(KindTokenExpired, "token expired on arrival", nil)
	}
	if err == nil {
		return claims, nil
	}

	// A key source outage says nothing about the token, treat it like a
	// connectivity failure.
	if !KindOf(err).Fatal() {
		return nil, err
	}

	c.logger.Warn("rejected untrusted token", "op", op, "error", err, "token", cryptox.ShortFingerprint(token))

	wasAuthenticated := c.state.Authenticated()
	c.scheduler.Disarm()
	if c.state.InvalidateAt(ctx, epoch) && wasAuthenticated {
		c.events.Emit(EventSessionInvalidated, Payload{Err: err})
	}
	return nil, err
}

func (c *Client) loadProfile(ctx context.Context, claims *jwtx.Claims, token string) (*User, error) {
	if c.cfg.ProfileMode == ProfileFromClaims {
		return userFromClaims(claims), nil
	}
	user, err := c.transport.FetchUser(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, newError(KindConnectivity, "empty user details", nil)
	}
	return user, nil
}

func (c *Client) arm() {
	if !c.cfg.AutoRefresh {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.scheduler.Arm(c.state.TokenExpiry, c.cfg.AutoRefreshBuffer)
}

// ReloadProfile refetches the profile for the current token.
func (c *Client) ReloadProfile(ctx context.Context) (*User, error) {
	epoch := c.state.Epoch()
	token, ok := c.state.Token()
	if !ok || !c.state.Authenticated() {
		return nil, newError(KindInvalidInput, "not authenticated", nil)
	}

	var user *User
	var err error
	if c.cfg.ProfileMode == ProfileFromClaims {
		claims, derr := jwtx.DecodePayload(token)
		if derr != nil {
			return nil, newError(KindMalformedToken, "", derr)
		}
		// The token in state was verified when it was applied.
		user = userFromClaims(&claims)
	} else {
		user, err = c.loadProfile(ctx, nil, token)
		if err != nil {
			return nil, err
		}
	}

	if err := c.state.ApplyUserProfileAt(epoch, user); err != nil {
		return nil, err
	}
	return user.Clone(), nil
}

// ============================================================================
// Storage watch
// ============================================================================

// watchStorage follows the session token in shared storage. When another
// process removes it, this client logs out locally too.
func (c *Client) watchStorage(ctx context.Context) {
	w, ok := c.store.(storage.Watcher)
	if !ok {
		return
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := w.Watch(watchCtx, c.onStorageChange); err != nil {
		cancel()
		c.logger.Warn("session storage watch unavailable", "error", err)
		return
	}
	c.stopWatch = cancel
}

func (c *Client) onStorageChange(key string) {
	if key != StorageKeyToken {
		return
	}
	if !c.state.InvalidateIfErased(context.Background()) {
		return
	}

	c.logger.Info("session token removed by another process, logged out")
	c.scheduler.Disarm()
	c.events.Emit(EventUserLoggedOut, Payload{})
}

// ============================================================================
// Events
// ============================================================================

// On subscribes fn to event. Keep the returned handle to unsubscribe.
func (c *Client) On(event Event, fn Handler) Subscription { return c.events.On(event, fn) }

func (c *Client) Off(sub Subscription) { c.events.Off(sub) }

// ============================================================================
// Read API
// ============================================================================

// User returns a copy of the cached profile, or nil.
func (c *Client) User() *User {
	u, _ := c.state.User()
	return u
}

func (c *Client) IsAuthenticated() bool { return c.state.Authenticated() }
func (c *Client) IsInitialized() bool   { return c.state.Initialized() }

func (c *Client) Token() string {
	t, _ := c.state.Token()
	return t
}

func (c *Client) TokenExpiry() (time.Time, bool) { return c.state.TokenExpiry() }

func (c *Client) RefreshToken() string {
	t, _ := c.state.RefreshToken()
	return t
}

func (c *Client) UserCachedAt() (time.Time, bool) { return c.state.UserCachedAt() }

func (c *Client) UserUUID() string {
	if u := c.User(); u != nil {
		return u.UUID
	}
	return ""
}

func (c *Client) TenantUUID() string {
	if u := c.User(); u != nil {
		return u.TenantUUID
	}
	return ""
}

func (c *Client) CustomerUUID() string {
	if u := c.User(); u != nil {
		return u.CustomerUUID
	}
	return ""
}

// TokenExpiresIn is the time left on the token, zero when there is none.
func (c *Client) TokenExpiresIn() time.Duration {
	exp, ok := c.state.TokenExpiry()
	if !ok {
		return 0
	}
	left := exp.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

func (c *Client) TokenExpired() bool       { return c.TokenExpiresIn() == 0 }
func (c *Client) TokenStillValid() bool    { return !c.TokenExpired() }
func (c *Client) TokenAlmostExpired() bool { return c.TokenExpiresIn() < almostExpiredThreshold }

// ProfileStale reports whether the cached profile is older than
// ProfileCacheTTL. No profile is stale.
func (c *Client) ProfileStale() bool {
	at, ok := c.state.UserCachedAt()
	if !ok {
		return true
	}
	return c.now().Sub(at) > c.cfg.ProfileCacheTTL
}

// KeySetCache exposes the verification key cache.
func (c *Client) KeySetCache() *KeySetCache { return c.keys }

// Scheduler exposes the background refresh scheduler.
func (c *Client) Scheduler() *RefreshScheduler { return c.scheduler }
