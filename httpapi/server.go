// Package httpapi is the HTTP delivery layer: cookie handling, routing,
// the cron admission check, and the mapping from engine errors to status
// codes. It contains no authentication logic of its own.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokengate/tokengate"
)

// Config is the transport-level configuration.
type Config struct {
	CookieDomain string
	CookieSecure bool
	// CronSecret admits callers of the cleanup endpoint. Empty disables the
	// endpoint entirely.
	CronSecret string
}

// Server glues the engine to HTTP.
type Server struct {
	engine *tokengate.Engine
	config Config
}

func NewServer(engine *tokengate.Engine, cfg Config) *Server {
	return &Server{engine: engine, config: cfg}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/resend-verification", s.handleResendVerification)
		r.Post("/reset-password", s.handleResetRequest)
		r.Post("/reset-password/{uid}/{token}", s.handleResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleMe)
			r.Post("/change-password", s.handleChangePassword)
		})
	})

	r.Post("/internal/cleanup", s.handleCleanup)

	return r
}
