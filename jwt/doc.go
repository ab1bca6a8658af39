// Package jwt is the token codec: it mints and verifies the signed access
// and refresh tokens issued by the engine. Verification failures are typed
// (malformed, signature invalid, expired) because the orchestrator responds
// differently to each.
package jwt
