package httpapi

import (
	"net/http"
	"time"

	"github.com/tokengate/tokengate"
)

// Cookie names. Both cookies are HttpOnly: tokens are never exposed to
// page scripts.
const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

func (s *Server) setAuthCookies(w http.ResponseWriter, pair *tokengate.TokenPair) {
	now := time.Now()
	http.SetCookie(w, s.authCookie(accessCookie, pair.AccessToken, pair.AccessExpiresAt.Sub(now)))
	http.SetCookie(w, s.authCookie(refreshCookie, pair.RefreshToken, pair.RefreshExpiresAt.Sub(now)))
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, s.authCookie(accessCookie, "", -time.Hour))
	http.SetCookie(w, s.authCookie(refreshCookie, "", -time.Hour))
}

func (s *Server) authCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.config.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// cookieValue returns the named cookie's value, or "".
func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
