// Package config loads the crawler configuration from a YAML file with
// ${VAR} environment expansion, applies defaults, and validates the result.
package config
