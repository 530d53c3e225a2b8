package credentials

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/zcraft/internal/backendtest"
	"github.com/GriffinCanCode/zcraft/internal/events"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/transport"
)

var testCreds = types.Credentials{Host: "h", Port: "1", Username: "u", Password: "p"}

type staticLogin struct {
	token string
	err   error
	calls int
}

func (s *staticLogin) Login(context.Context, types.Credentials) (string, error) {
	s.calls++
	return s.token, s.err
}

func TestEmptyContext(t *testing.T) {
	cc := NewContext(nil)

	_, err := cc.Credentials("op")
	assert.True(t, errs.Is(err, errs.KindMissingCredentials))

	_, err = cc.Token("op")
	assert.True(t, errs.Is(err, errs.KindAuth))

	_, err = cc.Auth("op")
	assert.True(t, errs.Is(err, errs.KindMissingCredentials))
	assert.False(t, cc.Active())
}

func TestIncompleteCredentials(t *testing.T) {
	cc := NewContext(nil)
	cc.Set(Session{Credentials: types.Credentials{Host: "h", Username: "u"}, Token: "t"})

	_, err := cc.Auth("resource.List")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindMissingCredentials))
	assert.Contains(t, errs.DetailOf(err), "port")
	assert.Contains(t, errs.DetailOf(err), "password")
}

func TestExpiredSession(t *testing.T) {
	cc := NewContext(nil)
	now := time.Now()
	cc.now = func() time.Time { return now }
	cc.Set(Session{Credentials: testCreds, Token: "t", ExpiresAt: now.Add(-time.Second)})

	_, err := cc.Auth("op")
	assert.True(t, errs.Is(err, errs.KindAuth))
}

func TestSetReadAtCallTime(t *testing.T) {
	cc := NewContext(nil)
	cc.Set(Session{Credentials: testCreds, Token: "first"})

	auth, err := cc.Auth("op")
	require.NoError(t, err)
	assert.Equal(t, "first", auth.Token)

	cc.Set(Session{Credentials: testCreds, Token: "second"})
	auth, err = cc.Auth("op")
	require.NoError(t, err)
	assert.Equal(t, "second", auth.Token)
}

func TestLoginAgainstBackend(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddUser("u", "p")

	bus := events.NewBroadcaster(4)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	cc := NewContext(bus)
	auth := NewAuthenticator(transport.New(transport.Options{BaseURL: srv.URL}), cc, nil)

	session, err := auth.Login(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, "u", session.Subject)
	assert.False(t, session.ExpiresAt.IsZero())
	assert.Greater(t, Remaining(session, time.Now()), 50*time.Minute)

	got, ok := cc.Snapshot()
	require.True(t, ok)
	assert.Equal(t, testCreds, got.Credentials)

	ev := <-sub
	assert.Equal(t, events.CredentialsChanged, ev.Kind)

	auth.Logout()
	assert.False(t, cc.Active())
}

func TestLoginRejected(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.Fail(backendtest.RouteLogin, http.StatusUnauthorized, "Invalid mainframe credentials")

	cc := NewContext(nil)
	cc.Set(Session{Credentials: testCreds, Token: "previous"})
	auth := NewAuthenticator(transport.New(transport.Options{BaseURL: srv.URL}), cc, nil)

	_, err := auth.Login(context.Background(), testCreds)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindAuth))
	assert.Equal(t, "Invalid mainframe credentials", errs.DetailOf(err))

	s, _ := cc.Snapshot()
	assert.Equal(t, "previous", s.Token)
}

func TestLoginValidation(t *testing.T) {
	backend := &staticLogin{token: "opaque"}
	auth := NewAuthenticator(backend, NewContext(nil), nil)

	_, err := auth.Login(context.Background(), types.Credentials{Host: " ", Port: "1"})
	assert.True(t, errs.Is(err, errs.KindMissingCredentials))
	assert.Equal(t, 0, backend.calls)
}

func TestLoginOpaqueToken(t *testing.T) {
	backend := &staticLogin{token: "opaque"}
	cc := NewContext(nil)
	auth := NewAuthenticator(backend, cc, nil)

	session, err := auth.Login(context.Background(), testCreds)
	require.NoError(t, err)
	assert.True(t, session.ExpiresAt.IsZero())
	assert.Equal(t, "u", session.Subject)
	assert.Zero(t, Remaining(session, time.Now()))
}

func TestLoginExpiredToken(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	token, err := srv.ExpiredToken(testCreds)
	require.NoError(t, err)

	cc := NewContext(nil)
	auth := NewAuthenticator(&staticLogin{token: token}, cc, nil)

	_, err = auth.Login(context.Background(), testCreds)
	assert.True(t, errs.Is(err, errs.KindAuth))
	assert.False(t, cc.Active())
}
