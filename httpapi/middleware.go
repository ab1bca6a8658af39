package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/tokengate/tokengate"
)

type contextKey struct{ name string }

var identityKey = &contextKey{"identity"}

// requireAuth validates the access token from the cookie (or, for
// non-browser clients, the Authorization header) and stores the verified
// identity in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookieValue(r, accessCookie)
		if token == "" {
			token = bearerToken(r)
		}
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing access token"})
			return
		}

		identity, err := s.engine.ValidateAccess(token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the identity stored by requireAuth.
func identityFrom(r *http.Request) *tokengate.Identity {
	identity, _ := r.Context().Value(identityKey).(*tokengate.Identity)
	return identity
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// clientIP extracts the caller's address. The RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
