// Package config handles loading and validating Pourwell Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and the pump wiring table
//   - Default value handling
//
// The dispenser tunables (seconds per ounce, concurrency cap, retraction,
// pin inversion, dry-run) live here but are handed to the dispense package
// as an explicit struct; nothing reads them from package globals.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Dispenser.OzCoefficient)
package config
