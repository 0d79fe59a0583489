// Package authkit is the authentication and session security engine for
// point-of-sale deployments: password and PIN login with brute-force
// defenses, JWT access tokens with an explicit revocation blacklist,
// single-use rotating refresh tokens, sliding-expiry sessions, CSRF
// protection for cookie-borne credentials, and buffered audit logging.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], and value types; storage coordination lives in the
// sub-packages and behind the [CredentialStore] interface. Engine
// methods are safe for concurrent use after [Builder.Build].
//
// Hot state (sessions, refresh tokens, blacklist, CSRF tokens) lives in
// Redis; account records and the persisted PIN lockout live in the
// caller's credential store. Store failures fail closed: an auth check
// that cannot be evaluated denies.
package authkit
