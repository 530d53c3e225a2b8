package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

// LoginBackend exchanges credentials for a token.
type LoginBackend interface {
	Login(ctx context.Context, creds types.Credentials) (string, error)
}

// Authenticator performs login and logout against a Context.
type Authenticator struct {
	backend LoginBackend
	context *Context
	logger  *logging.Logger
}

// NewAuthenticator creates an authenticator writing into cc.
func NewAuthenticator(backend LoginBackend, cc *Context, logger *logging.Logger) *Authenticator {
	return &Authenticator{
		backend: backend,
		context: cc,
		logger:  logging.OrNop(logger).Named("credentials"),
	}
}

// tokenClaims mirrors what the backend puts in an access token.
type tokenClaims struct {
	Host string `json:"host"`
	Port any    `json:"port"`
	jwt.RegisteredClaims
}

// Login authenticates and, on success, replaces the active session.
// A failed login leaves the previous session untouched.
func (a *Authenticator) Login(ctx context.Context, creds types.Credentials) (Session, error) {
	const op = "credentials.Login"

	creds.Host = strings.TrimSpace(creds.Host)
	creds.Port = strings.TrimSpace(creds.Port)
	creds.Username = strings.TrimSpace(creds.Username)
	if missing := creds.Missing(); len(missing) > 0 {
		return Session{}, errs.E(errs.KindMissingCredentials, op, "missing "+joinFields(missing), nil)
	}

	a.logger.Info("logging in", zap.String("host", creds.Host), zap.String("user", creds.Username))

	token, err := a.backend.Login(ctx, creds)
	if err != nil {
		a.logger.Warn("login failed", zap.String("user", creds.Username), zap.Error(err))
		if errors.Is(err, transport.ErrNoToken) {
			return Session{}, errs.E(errs.KindAuth, op, "login returned no access token", err)
		}
		return Session{}, errs.E(errs.KindAuth, op, "", err)
	}

	session := Session{Credentials: creds, Token: token, Subject: creds.Username}
	if claims, ok := decodeClaims(token); ok {
		if claims.Subject != "" {
			session.Subject = claims.Subject
		}
		if claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time
		}
	} else {
		a.logger.Debug("access token is opaque, no expiry tracked")
	}

	if session.Expired(a.context.now()) {
		return Session{}, errs.E(errs.KindAuth, op, "access token already expired", nil)
	}

	a.context.Set(session)
	a.logger.Info("logged in", zap.String("subject", session.Subject), zap.Time("expires", session.ExpiresAt))
	return session, nil
}

// Logout clears the active session.
func (a *Authenticator) Logout() {
	a.context.Clear()
	a.logger.Info("logged out")
}

// decodeClaims reads token claims without verifying the signature; the
// backend verifies, the client only needs sub and exp.
func decodeClaims(token string) (*tokenClaims, bool) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Remaining returns how long the session token stays valid, or zero when
// it has no expiry.
func Remaining(s Session, now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
