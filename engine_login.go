package tokengate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tokengate/tokengate/internal/audit"
)

// dummyHash keeps the credential check's timing flat when the identifier is
// unknown: the bcrypt comparison runs either way.
var dummyHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// RegisterInput carries a signup request.
type RegisterInput struct {
	Email    string
	Password string
	IP       string
}

// Register creates an unverified account and issues its first email
// verification code. The account is created even if code delivery fails;
// the subject can request a resend.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*UserRecord, error) {
	if in.Email == "" {
		return nil, ErrCredentialInvalid
	}
	if err := e.checkPasswordPolicy(in.Password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), e.config.Password.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	user, err := e.creds.Create(ctx, in.Email, string(hash))
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emit(audit.Event{
		Type:      audit.TypeRegister,
		SubjectID: user.ID,
		IP:        in.IP,
		Success:   true,
	})

	if err := e.issueVerification(ctx, user, 0); err != nil {
		// Signup already happened; the first code can be re-requested.
		e.emit(audit.Event{
			Type:      audit.TypeOTPIssued,
			SubjectID: user.ID,
			IP:        in.IP,
			Error:     err.Error(),
		})
	}

	return user, nil
}

// LoginInput carries a credential login request.
type LoginInput struct {
	Email    string
	Password string
	IP       string
}

// Login verifies credentials and issues a token pair. Unknown identifier
// and wrong password are indistinguishable to the caller. Unverified
// accounts are refused after the password check so the error does not leak
// whether the password was right.
//
// Throttling is two-scoped: per source IP and per identifier. The second
// scope is what stops a guesser who rotates addresses against one account.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	if err := e.allow(ctx, "login:ip:"+in.IP, e.config.RateLimit.Login); err != nil {
		return nil, err
	}
	if err := e.allow(ctx, "login:id:"+in.Email, e.config.RateLimit.Login); err != nil {
		return nil, err
	}

	user, err := e.creds.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(dummyHash, []byte(in.Password))
			e.emit(audit.Event{
				Type:  audit.TypeLoginFailed,
				IP:    in.IP,
				Error: "unknown identifier",
			})
			return nil, ErrCredentialInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		e.emit(audit.Event{
			Type:      audit.TypeLoginFailed,
			SubjectID: user.ID,
			IP:        in.IP,
			Error:     "password mismatch",
		})
		return nil, ErrCredentialInvalid
	}

	if !user.Verified {
		return nil, ErrAccountUnverified
	}

	pair, err := e.mintPair(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	// The counters only guard guessing; a proven owner starts fresh.
	e.resetLimit(ctx, "login:ip:"+in.IP, e.config.RateLimit.Login)
	e.resetLimit(ctx, "login:id:"+in.Email, e.config.RateLimit.Login)

	e.emit(audit.Event{
		Type:      audit.TypeLogin,
		SubjectID: user.ID,
		IP:        in.IP,
		Success:   true,
	})
	return pair, nil
}
