/*
Package resilience provides the circuit breaker that guards calls to the
remote backend.

When the backend (or the host system behind it) stops answering, the
breaker opens and further calls fail immediately with ErrCircuitOpen
instead of each waiting out the transport timeout. Callers treat that like
any other remote failure.

# Usage

	breaker := resilience.New("backend", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || transport.IsClientError(err)
		},
	})

	datasets, err := resilience.Do(breaker, func() ([]types.Container, error) {
		return backend.listContainers(ctx, creds)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
