package transport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// APIError is a non-success response from the backend.
type APIError struct {
	Endpoint string
	Status   int
	Detail   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Detail)
}

// DetailMessage returns the backend-provided message.
func (e *APIError) DetailMessage() string {
	return e.Detail
}

// IsClientError reports whether the backend rejected the request itself.
func (e *APIError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// IsUnauthorized reports whether the bearer token was refused.
func (e *APIError) IsUnauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type errorBody struct {
	Detail any `json:"detail"`
}

// decodeError builds an APIError from a {detail} body. Detail may be a
// string or a list of validation entries carrying "msg".
func decodeError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{Endpoint: endpoint, Status: status}

	var parsed errorBody
	if err := sonic.Unmarshal(body, &parsed); err == nil {
		switch d := parsed.Detail.(type) {
		case string:
			apiErr.Detail = d
		case []any:
			var msgs []string
			for _, item := range d {
				if m, ok := item.(map[string]any); ok {
					if msg, ok := m["msg"].(string); ok {
						msgs = append(msgs, msg)
					}
				}
			}
			apiErr.Detail = strings.Join(msgs, "; ")
		}
	}

	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(status)
	}
	return apiErr
}
