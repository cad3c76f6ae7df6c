// Package config loads service configuration from YAML files, .env
// files and environment variables, layered in that order.
package config
