package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/zcraft/internal/shared/paths"
)

// Profile is the persisted part of a connection identity. The password is
// never written to disk.
type Profile struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Username string `toml:"username"`
}

// DefaultProfilePath returns ~/.zcraft/profile.toml.
func DefaultProfilePath() string {
	return paths.Profile()
}

// LoadProfile reads a profile. A missing file yields an empty profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return &p, nil
}

// SaveProfile writes a profile, creating the parent directory.
func SaveProfile(path string, p *Profile) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
