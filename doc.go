// Package tokengate implements a stateless, cookie-delivered JWT
// authentication service core: it issues, rotates, validates, blacklists,
// and expires access/refresh token pairs, gates sensitive operations behind
// Redis-backed rate limits and a one-time-password step, and reclaims
// storage for dead tokens through an externally triggered cleanup sweep.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build]. There are no in-process locks in the request path;
// correctness under concurrency comes from the shared store's atomic
// primitives (INCR, WATCH transactions, Lua check-and-set).
//
// # Architecture boundaries
//
// tokengate is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] and [Mailer] collaborator interfaces, and the
// sentinel error taxonomy. Token encoding lives in the jwt sub-package;
// storage, rate limiting, and audit dispatch live under internal/ and are
// never exported. HTTP delivery (cookies, routes, the cron admission check)
// lives in httpapi and depends only on the public surface.
//
// # Trust model
//
// Access tokens are stateless and never persisted: they cannot be revoked
// mid-life and expire on their own. Refresh tokens are tracked server-side
// by their jti so they can be rotated on every use, blacklisted on logout,
// and flagged when a rotated-out token is replayed (reuse detection). This
// two-tier split is intentional and must not be collapsed.
package tokengate
