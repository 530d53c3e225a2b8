package types

import "fmt"

// Container is a named grouping of members (a dataset).
type Container struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
	Dsorg    string `json:"dsorg,omitempty"`
	Recfm    string `json:"recfm,omitempty"`
	Volume   string `json:"volume,omitempty"`
}

// MemberInfo is one entry of a container listing.
type MemberInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ResourceRef addresses one member.
type ResourceRef struct {
	Container string `json:"container"`
	Member    string `json:"member"`
}

// String renders the ref the way the host system writes it: DSN(MEMBER).
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s(%s)", r.Container, r.Member)
}

// Valid reports whether both parts are set.
func (r ResourceRef) Valid() bool {
	return r.Container != "" && r.Member != ""
}

// LoadState tracks a remote listing or read.
type LoadState string

const (
	LoadIdle    LoadState = "idle"
	LoadLoading LoadState = "loading"
	LoadLoaded  LoadState = "loaded"
	LoadFailed  LoadState = "failed"
)
