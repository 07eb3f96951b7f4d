// Package config loads, validates and watches the gateway configuration.
//
// Configuration is read from an optional YAML file (with ${VAR} and
// ${VAR:-default} substitution) on top of built-in defaults, and
// environment variables override both:
//
//	cfg, err := config.LoadConfig(os.Getenv("GATEWAY_CONFIG_PATH"))
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// The upstream table is read once at startup. A Watcher reloads the file
// on change so that runtime-adjustable settings can be applied.
package config
