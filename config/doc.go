// Package config loads application settings from defaults, a YAML file,
// .env files and the process environment.
package config
