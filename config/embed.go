// Package config embeds the built-in default configuration, the way
// webassets embeds the frontend bundle: a single go:embed directive and a
// narrow accessor, so the binary has sane defaults with no config file on
// disk.
package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var Default []byte

// Decode unmarshals the embedded defaults into v, for callers that want the
// baked-in config without going through viper (the admin /defaults route,
// documentation generation).
func Decode(v any) error {
	return yaml.Unmarshal(Default, v)
}

