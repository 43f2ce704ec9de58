/*
Package bullwark is a client SDK for Bullwark authentication. It signs a user
in, verifies the tokens it receives against the issuer's published keys,
keeps the session in pluggable storage and refreshes it before it expires.

# Overview

A Client owns one session. Create it once per process:

	cfg := bullwark.DefaultConfig()
	cfg.APIBaseURL = "https://api.bullwark.com"
	cfg.TenantIdentifier = "4f6d2c1e-..."

	client, err := bullwark.New(ctx, cfg, bullwark.WithStorage(store))
	if err != nil {
		return err
	}
	defer client.Close()

	// Startup hydration runs in the background.
	if err := client.WaitInitialized(ctx); err != nil {
		return err
	}

On construction the client looks for a persisted token. If there is one it is
verified and, when still fresh, the session is restored. If there is none, one
refresh is attempted (using the HTTP-only cookie in cookie mode, or a stored
refresh token otherwise). A failed cold start is silent and leaves the client
unauthenticated.

# Session lifecycle

	user, err := client.Login(ctx, bullwark.LoginCredentials{Email: email, Password: pw})
	user, err = client.Refresh(ctx, "")
	err = client.Logout(ctx, "")

Every token is verified before it changes the session:

 1. the header is decoded and must carry a kid
 2. the key for the kid comes from the KeySetCache, fetching the JWKS on a miss
 3. the signature, issuer and audience are checked
 4. claims are read from the verified payload only, and exp must be numeric

Authenticity and freshness are separate. A token that fails verification, or
that is already expired when it arrives, tears the session down and returns a
fatal error. A connectivity failure during refresh leaves the existing session
in place until its token actually expires.

With AutoRefresh on, a RefreshScheduler checks the expiry every
RefreshCheckInterval and refreshes once it is within AutoRefreshBuffer. Only one
background refresh runs at a time.

# Profiles

The user profile either comes from GET /me (ProfileFromEndpoint, the default)
or from claims embedded in the token (ProfileFromClaims). A refresh only
reloads the profile when the token's detailsHash changed.

# Authorization

	if client.UserCanKey("invoices.approve") { ... }
	if client.UserHasRoleKey("finance") { ... }

Checks never fail. Without a cached profile they log a warning and deny. An
ability with key "*" passes every ability check.

# Events

	sub := client.On(bullwark.EventUserLoggedIn, func(ev bullwark.Event, p bullwark.Payload) {
		log.Println("hello", p.User.Email)
	})
	defer client.Off(sub)

Use WithHandler to subscribe before startup hydration emits userHydrated and
bullwarkLoaded.

# Errors

All errors are *Error values with a Kind:

	_, err := client.Login(ctx, creds)
	switch bullwark.KindOf(err) {
	case bullwark.KindInvalidCredentials:
		// wrong email or password
	case bullwark.KindConnectivity:
		// try again later
	}

	if errors.Is(err, bullwark.ErrSignatureInvalid) { ... }

# Storage

Sessions are kept under bullwark:jwt, bullwark:jwt-exp and, outside cookie
mode, bullwark:refresh. See package storage and its drivers. If the storage
implements storage.Watcher, removing bullwark:jwt from another process logs
this client out as well.

# Development mode

Without a signature primitive (WithoutSignatureVerification) New refuses to
start unless DevelopmentMode is set. In development mode every token is
accepted as decoded and each verification logs:

	JWT headers and payloads are unverified. DO NOT TRUST THIS DATA ON PRODUCTION
*/
package bullwark
