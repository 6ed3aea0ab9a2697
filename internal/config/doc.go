// Package config defines the gateway settings and provides helpers to load,
// validate and save them in YAML format.
//
// Validate fills protocol timer defaults, so a minimal file only needs the
// system, the gateway id and the panel endpoint.
package config
