// Package config loads and validates the blinkyd configuration.
//
// Configuration comes from a YAML file, with BLINKY_* environment
// variables overriding individual fields so secrets (broker password,
// JWT secret, Influx token) can stay out of the file. Everything is
// loaded once at startup; a config change means a restart.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.ID)
//
// Validate rejects configurations that would start a broken gateway,
// such as a managed scanner without a binary path or a JWT secret left
// at the placeholder value.
package config
