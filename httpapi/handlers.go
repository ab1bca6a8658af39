package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokengate/tokengate"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.engine.Register(r.Context(), tokengate.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		IP:       clientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pair, err := s.engine.Login(r.Context(), tokengate.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		IP:       clientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, refreshCookie)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing refresh token"})
		return
	}

	pair, err := s.engine.Refresh(r.Context(), token, clientIP(r))
	if err != nil {
		// A reused or invalid token ends the session; stale cookies would
		// only produce the same failure on every request.
		if errors.Is(err, tokengate.ErrRefreshReuse) || errors.Is(err, tokengate.ErrRefreshInvalid) {
			s.clearAuthCookies(w)
		}
		writeError(w, err)
		return
	}

	s.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// handleLogout is idempotent: the cookies are cleared and the refresh
// token, if one was presented, is blacklisted. Only an unanswerable store
// turns this into an error.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, refreshCookie)
	s.clearAuthCookies(w)

	if token != "" {
		if err := s.engine.Logout(r.Context(), token); err != nil && errors.Is(err, tokengate.ErrStoreUnavailable) {
			writeError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resendRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), req.Email, clientIP(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetConfirmRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	uid := chi.URLParam(r, "uid")
	token := chi.URLParam(r, "token")

	if err := s.engine.ConfirmPasswordReset(r.Context(), uid, token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	identity := identityFrom(r)
	if err := s.engine.ChangePassword(r.Context(), identity.SubjectID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}

	// Every refresh token just died; the cookies are useless now.
	s.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": identity.SubjectID,
		"expires_at": identity.ExpiresAt,
	})
}

// handleCleanup triggers the token sweep. Admission is a shared secret in
// the X-Cron-Secret header, compared in constant time; an unset secret
// disables the endpoint.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.config.CronSecret == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}

	presented := r.Header.Get("X-Cron-Secret")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.config.CronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return
	}

	report, err := s.engine.Cleanup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"purged_tokens": report.PurgedTokens,
		"duration_ms":   report.Duration.Milliseconds(),
	})
}
