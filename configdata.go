// Package catbot provides embedded assets for the catbot binaries.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML], which both binaries copy into the data directory on
// first run.
package catbot

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time and generated by cmd/genconfig.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
