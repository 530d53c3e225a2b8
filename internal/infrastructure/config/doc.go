// Package config loads workspace configuration from the environment
// (kelseyhightower/envconfig) and connection profiles from TOML.
//
// Environment Variables:
//   - ZCRAFT_BACKEND_URL: backend base URL (default: http://localhost:8000)
//   - ZCRAFT_TERMINAL_URL: terminal WebSocket URL (default: derived from backend URL)
//   - ZCRAFT_HTTP_TIMEOUT: per-request timeout (default: 30s)
//   - ZCRAFT_HTTP_RETRIES: transport retries (default: 3)
//   - ZCRAFT_RATE_LIMIT_RPS: outbound rate limit, 0 disables (default: 0)
//   - ZCRAFT_SAVE_STATUS_WINDOW: how long saved/error status stays visible (default: 3s)
//   - ZCRAFT_PROFILE: profile path (default: ~/.zcraft/profile.toml)
//   - ZCRAFT_STATUS_ADDR: local status server address, empty disables
//   - LOG_LEVEL, LOG_DEV: logging
package config
