// Package credentials holds the single active connection identity and the
// login/logout operations that replace it.
package credentials

import (
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

// Session is an authenticated connection identity.
type Session struct {
	Credentials types.Credentials
	Token       string
	Subject     string
	ExpiresAt   time.Time // zero when the token carries no exp
}

// Expired reports whether the token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Context is the credential context every outbound call reads. Callers
// read it at call time, so a replaced session is seen by the next call.
type Context struct {
	mu      sync.RWMutex
	session *Session // Protected by mu
	events  *events.Broadcaster
	now     func() time.Time
}

// NewContext creates an empty credential context.
func NewContext(bus *events.Broadcaster) *Context {
	return &Context{events: bus, now: time.Now}
}

// Set replaces the active session.
func (c *Context) Set(s Session) {
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()

	c.events.Publish(events.Event{Kind: events.CredentialsChanged, Detail: s.Credentials.Username})
}

// Clear removes the active session.
func (c *Context) Clear() {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.mu.Unlock()

	if had {
		c.events.Publish(events.Event{Kind: events.CredentialsChanged})
	}
}

// Snapshot returns a copy of the active session.
func (c *Context) Snapshot() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Active reports whether a session is present.
func (c *Context) Active() bool {
	_, ok := c.Snapshot()
	return ok
}

// Credentials returns the host credentials, failing with a
// missing-credentials error when any field is absent.
func (c *Context) Credentials(op string) (types.Credentials, error) {
	s, ok := c.Snapshot()
	if !ok {
		return types.Credentials{}, errs.E(errs.KindMissingCredentials, op, "not connected", nil)
	}
	if missing := s.Credentials.Missing(); len(missing) > 0 {
		return types.Credentials{}, errs.E(errs.KindMissingCredentials, op, "missing "+joinFields(missing), nil)
	}
	return s.Credentials, nil
}

// Token returns the bearer token, failing with an auth error when the
// session is absent or expired.
func (c *Context) Token(op string) (string, error) {
	s, ok := c.Snapshot()
	if !ok || s.Token == "" {
		return "", errs.E(errs.KindAuth, op, "not logged in", nil)
	}
	if s.Expired(c.now()) {
		return "", errs.E(errs.KindAuth, op, "session expired, log in again", nil)
	}
	return s.Token, nil
}

// Auth returns everything a credentialed call carries.
func (c *Context) Auth(op string) (transport.Auth, error) {
	creds, err := c.Credentials(op)
	if err != nil {
		return transport.Auth{}, err
	}
	token, err := c.Token(op)
	if err != nil {
		return transport.Auth{}, err
	}
	return transport.Auth{Token: token, Credentials: creds}, nil
}

func joinFields(fields []string) string {
	return strings.Join(fields, ", ")
}
