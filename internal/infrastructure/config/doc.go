// Package config handles loading and validating stolenwatch configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Exporting secrets from an optional .env file
//   - Overriding with environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Knox client secrets and SMTP passwords should be set via environment
//     variables or the .env file, never committed in config.yaml
//   - The config file should have restricted permissions (0600)
//
// Every value the watcher needs to run (tag, geofence centre, radius and
// poll interval) is required; a missing one is reported as ErrInvalidConfig
// and stops the process before the first poll.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Watch.Tag)
package config
