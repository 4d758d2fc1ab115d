// Package config handles loading and validating the Ariston bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ARISTON_BRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The vendor account password and JWT secret should come from the environment
//   - The config file should have restricted permissions (0600)
//   - AristonConfig.String redacts the password so the section is safe to log
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID)
package config
