package resource

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Containers returns the cached containers whose name matches pattern.
// Qualifiers act as path segments, so "USER.*" matches USER.JCL but not
// USER.JCL.OLD, and "USER.**" matches both. An empty pattern matches all.
func (c *Cache) Containers(pattern string) []types.Container {
	c.mu.RLock()
	items := append([]types.Container(nil), c.containers.items...)
	c.mu.RUnlock()

	if pattern == "" {
		return items
	}
	glob := qualifierPath(strings.ToUpper(pattern))
	if !doublestar.ValidatePattern(glob) {
		return nil
	}

	var out []types.Container
	for _, item := range items {
		if ok, _ := doublestar.Match(glob, qualifierPath(strings.ToUpper(item.Name))); ok {
			out = append(out, item)
		}
	}
	return out
}

// PublicContainers returns the containers flagged public.
func (c *Cache) PublicContainers() []types.Container {
	return partition(c.Containers(""), true)
}

// UserContainers returns the containers not flagged public.
func (c *Cache) UserContainers() []types.Container {
	return partition(c.Containers(""), false)
}

func partition(items []types.Container, public bool) []types.Container {
	var out []types.Container
	for _, item := range items {
		if item.IsPublic == public {
			out = append(out, item)
		}
	}
	return out
}

func qualifierPath(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}
