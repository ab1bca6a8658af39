package tokengate

import "errors"

// Sentinel errors returned by Engine operations. Transport layers map these
// onto status codes; everything not listed here is an internal failure and
// must be surfaced as ErrStoreUnavailable, never as a definitive rejection.
var (
	// ErrTokenMalformed reports a token that does not parse.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrSignatureInvalid reports a token signed by the wrong key.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenExpired reports a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrRefreshInvalid reports a refresh token that is malformed, expired,
	// of the wrong kind, or unknown to the store. Deliberately coarse: the
	// caller learns nothing about which check failed.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrRefreshReuse reports a blacklisted refresh token being replayed.
	// This is a security event, not a client mistake.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrUserNotFound is returned by CredentialStore implementations for
	// unknown identifiers. The engine translates it to ErrCredentialInvalid
	// or silence before anything reaches a client.
	ErrUserNotFound = errors.New("user not found")
	// ErrCredentialInvalid covers unknown identifier and wrong password
	// alike so responses cannot be used to enumerate accounts.
	ErrCredentialInvalid = errors.New("invalid credentials")
	// ErrAccountExists reports a registration against a taken identifier.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountUnverified reports a login before email verification.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAlreadyVerified reports a verification attempt on a verified
	// account.
	ErrAlreadyVerified = errors.New("account already verified")

	// ErrRateLimited reports that a fixed-window limit or resend cooldown
	// refused the operation.
	ErrRateLimited = errors.New("rate limited")

	// ErrOTPNotFound reports verification with no outstanding code.
	ErrOTPNotFound = errors.New("verification code not found")
	// ErrOTPExpired reports a code past its window.
	ErrOTPExpired = errors.New("verification code expired")
	// ErrOTPMismatch reports a wrong code with attempts remaining.
	ErrOTPMismatch = errors.New("verification code mismatch")
	// ErrOTPAttemptsExceeded reports a code burned by too many wrong
	// guesses.
	ErrOTPAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrOTPLockedOut reports a subject in the post-abuse lockout window.
	ErrOTPLockedOut = errors.New("verification locked out")

	// ErrResetInvalid covers every non-retryable reset link failure: bad
	// uid, unknown subject, wrong or expired token.
	ErrResetInvalid = errors.New("password reset link invalid")
	// ErrResetAttemptsExceeded reports a reset challenge burned by guesses.
	ErrResetAttemptsExceeded = errors.New("password reset attempts exceeded")

	// ErrPasswordPolicy reports a new password that fails the policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse reports a new password equal to the current one.
	ErrPasswordReuse = errors.New("new password must differ from current password")

	// ErrStoreUnavailable wraps infrastructure failures (Redis, SQL, the
	// mail transport when it must succeed). Auth decisions fail closed on
	// it.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
