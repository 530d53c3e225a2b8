/*
Package monitoring provides Prometheus metrics for a workspace and the
optional local status server.

# Metrics

Backend round trips (by endpoint and status), breaker state, content cache
hits and misses, open buffers, save outcomes, job submissions, assistant
requests, command executions and reply parse degradations.

# Status Server

	srv := monitoring.NewStatusServer(":9100", metrics, ws, logger)
	srv.Start()
	defer srv.Shutdown(ctx)

Routes: GET /healthz, GET /metrics, GET /state. Requests beyond the
server's budget are answered with 429.
*/
package monitoring
