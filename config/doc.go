// Package config provides configuration loading and validation for hoist.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (HOIST_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with HOIST_ prefix:
//   - server.port → HOIST_SERVER_PORT
//   - token.secret → HOIST_TOKEN_SECRET
//   - cache.max_age → HOIST_CACHE_MAX_AGE
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: port and the mount prefix for the attachment routes
//   - CORS: the allowed origin (empty disables CORS headers)
//   - Uploads: backend allow-list and maximum upload size
//   - Token: HMAC signing secret for download tokens
//   - Cache: max-age for streamed responses
//   - Backends: filesystem, sqlite and s3 backend wiring
//   - Log: logging level
//
// # Validation
//
// Configuration is validated using struct tags:
//   - Port must be 1-65535
//   - Prefix must start with "/"
//   - Log level must be debug, info, warn, or error
package config
