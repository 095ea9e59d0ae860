// Package config handles loading and validating Tasklane Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (TASKLANE_*)
//   - Validation of required fields and minimum security costs
//   - Default value handling
//
// Security Considerations:
//   - Secrets (Redis, MQTT, InfluxDB credentials) should be set via environment variables
//   - Argon2id costs below the validated minimums are rejected at startup
//   - Token lifetimes are validated so an access token never outlives its refresh token
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Security.Tokens.AccessTTL)
package config
