/*
Package transport is the HTTP client for the mainframe backend.

Every call goes through a rate limiter and a circuit breaker, then resty
over a retrying http.Transport. Only idempotent calls are retried; job
submissions, assistant requests and command executions are sent once.

Non-success responses become *APIError carrying the backend's {detail}
message. Client errors (4xx) do not count against the breaker.

# Authentication

Callers pass an Auth value on every call. The token goes in the
Authorization header and the credentials in the body, so a credential
change is visible to the very next request.
*/
package transport
