package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

func TestParseRef(t *testing.T) {
	ref, err := ParseRef(" user.jcl(hello) ")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceRef{Container: "USER.JCL", Member: "HELLO"}, ref)
	assert.Equal(t, "USER.JCL(HELLO)", ref.String())

	for _, bad := range []string{"", "USER.JCL", "(HELLO)", "USER.JCL()", "USER.JCL(HELLO"} {
		assert.False(t, IsRef(bad), bad)
	}
}

func TestLocalPaths(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.Equal(t, filepath.Join(Root(), "profile.toml"), Profile())
	assert.Equal(t, filepath.Join(Root(), "history"), History())
}
