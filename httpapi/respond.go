package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tokengate/tokengate"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps engine sentinels onto status codes. Infrastructure
// failures become an opaque 503: internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tokengate.ErrCredentialInvalid),
		errors.Is(err, tokengate.ErrTokenMalformed),
		errors.Is(err, tokengate.ErrSignatureInvalid),
		errors.Is(err, tokengate.ErrTokenExpired),
		errors.Is(err, tokengate.ErrRefreshInvalid):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})

	case errors.Is(err, tokengate.ErrRefreshReuse),
		errors.Is(err, tokengate.ErrAccountUnverified):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})

	case errors.Is(err, tokengate.ErrRateLimited),
		errors.Is(err, tokengate.ErrOTPLockedOut):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})

	case errors.Is(err, tokengate.ErrAccountExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})

	case errors.Is(err, tokengate.ErrAlreadyVerified),
		errors.Is(err, tokengate.ErrOTPNotFound),
		errors.Is(err, tokengate.ErrOTPExpired),
		errors.Is(err, tokengate.ErrOTPMismatch),
		errors.Is(err, tokengate.ErrOTPAttemptsExceeded),
		errors.Is(err, tokengate.ErrResetInvalid),
		errors.Is(err, tokengate.ErrResetAttemptsExceeded),
		errors.Is(err, tokengate.ErrPasswordPolicy),
		errors.Is(err, tokengate.ErrPasswordReuse):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})

	default:
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service unavailable"})
	}
}

// decodeBody reads a JSON request body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}
