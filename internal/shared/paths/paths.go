package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Local directory names under the user's home.
const (
	RootDir     = ".zcraft"
	ProfileFile = "profile.toml"
	HistoryFile = "history"
	LogFile     = "workspace.log"
)

// Root returns the workspace's local directory, ~/.zcraft.
func Root() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return RootDir
	}
	return filepath.Join(home, RootDir)
}

// Profile returns the default connection profile path.
func Profile() string {
	return filepath.Join(Root(), ProfileFile)
}

// History returns the interactive shell history path.
func History() string {
	return filepath.Join(Root(), HistoryFile)
}

// Log returns the default log file path.
func Log() string {
	return filepath.Join(Root(), LogFile)
}

// ParseRef parses "DSN(MEMBER)" into a reference. Names are upper-cased
// as the host stores them.
func ParseRef(s string) (types.ResourceRef, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return types.ResourceRef{}, fmt.Errorf("reference %q must look like DATASET(MEMBER)", s)
	}

	ref := types.ResourceRef{
		Container: strings.ToUpper(strings.TrimSpace(s[:open])),
		Member:    strings.ToUpper(strings.TrimSpace(s[open+1 : len(s)-1])),
	}
	if !ref.Valid() {
		return types.ResourceRef{}, fmt.Errorf("reference %q must look like DATASET(MEMBER)", s)
	}
	return ref, nil
}

// IsRef reports whether s is in member reference form.
func IsRef(s string) bool {
	_, err := ParseRef(s)
	return err == nil
}
