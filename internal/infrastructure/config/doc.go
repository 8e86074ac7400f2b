// Package config provides YAML-based configuration for Gray Logic Connect.
//
// Configuration is loaded from a single YAML file with three layers of
// precedence (later wins):
//
//  1. Built-in defaults (defaultConfig)
//  2. Values from the YAML file
//  3. Environment variable overrides (GLCONNECT_SECTION_KEY)
//
// Environment overrides exist so that secrets — local bus credentials,
// touch-profile passwords, InfluxDB tokens — never need to live in the
// config file on disk.
//
// Example usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.CoreLink.Controller.Host)
//
// Validation is collected rather than fail-fast: a config with several
// problems reports all of them in one error message, joined with "; ".
package config
