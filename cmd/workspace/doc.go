// Command workspace is an interactive session against the host backend:
// browse datasets, edit members, submit jobs and talk to the assistant.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//   - ~/.zcraft/profile.toml remembers host, port and user; never the password
//
// Usage:
//
//	# Interactive
//	./workspace -backend http://localhost:8000
//
//	# One-shot
//	./workspace -c "login h 1 u p; ls USER.*; members USER.JCL"
//
//	# With the status server (/healthz, /metrics, /state)
//	./workspace -status 127.0.0.1:9100
//
// Signals:
//   - SIGINT, SIGTERM: end the session
package main
