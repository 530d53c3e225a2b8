package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/zcraft/internal/backendtest"
	"github.com/GriffinCanCode/zcraft/internal/events"
)

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "lines channel closed")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestChannelRoundTrip(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	bus := events.NewBroadcaster(8)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	ch, err := Dial(context.Background(), srv.TerminalURL(), Options{Events: bus})
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "READY", receive(t, ch.Lines()))

	require.NoError(t, ch.Send("D T"))
	assert.Equal(t, "> D T", receive(t, ch.Lines()))

	select {
	case ev := <-sub:
		assert.Equal(t, events.TerminalLine, ev.Kind)
		assert.Equal(t, "READY", ev.Detail)
	case <-time.After(time.Second):
		t.Fatal("no terminal event published")
	}
}

func TestSendAfterClose(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()

	ch, err := Dial(context.Background(), srv.TerminalURL(), Options{})
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send("D T"), ErrClosed)
	assert.NoError(t, ch.Close())
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/api/terminal/ws", Options{})
	assert.Error(t, err)
}
