// Package config loads the daemon configuration from a YAML or JSON file,
// an optional .env file and environment overrides, then validates it before
// any component is started.
package config
