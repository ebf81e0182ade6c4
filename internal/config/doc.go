// Package config provides configuration management for beadworks.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values except LLM_API_KEY have defaults suitable for a
// single developer machine.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
