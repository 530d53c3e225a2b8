package types

import "strings"

// Credentials authorize calls against the host system. The JSON shape is
// the canonical one sent to every credentialed endpoint.
type Credentials struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Missing returns the names of the absent fields.
func (c Credentials) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(c.Port) == "" {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	return missing
}

// Complete reports whether every field is present.
func (c Credentials) Complete() bool {
	return len(c.Missing()) == 0
}

// Redacted returns a copy safe to log or display.
func (c Credentials) Redacted() Credentials {
	if c.Password != "" {
		c.Password = "****"
	}
	return c
}
