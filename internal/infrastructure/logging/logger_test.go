package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("valid level", func(t *testing.T) {
		logger, err := New(Config{Level: "debug"})
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(-1))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil).Logger)
	assert.NotNil(t, OrNop(&Logger{}).Logger)

	l := Nop()
	assert.Same(t, l, OrNop(l))
}

func TestNamed(t *testing.T) {
	child := Nop().Named("resource")
	require.NotNil(t, child)
	child.Info("named logger works")
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "workspace.log")
	logger, err := New(Config{Level: "info", Development: true, File: path})
	require.NoError(t, err)

	logger.Named("resource").Info("member written", zap.String("member", "USER.JCL(HELLO)"))
	logger.Debug("below level")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "member written")
	assert.Contains(t, out, "resource")
	assert.NotContains(t, out, "below level")
	assert.NotContains(t, out, "\x1b[", "no color codes in files")
}
