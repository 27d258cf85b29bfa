// Package config loads reef's connection and binding configuration.
//
// Two files are involved: a global connections file (viper-managed, usually
// ~/.config/reef/config.yaml) describing the servers the user can talk to,
// and a per-project bindings file mapping local scopes to server projects.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ConnectionConfig describes one configured server connection.
type ConnectionConfig struct {
	ID           string `mapstructure:"id"`
	URL          string `mapstructure:"url"`
	Token        string `mapstructure:"token"`
	Kind         string `mapstructure:"kind"`         // "self-hosted" (default) or "cloud"
	Organization string `mapstructure:"organization"` // cloud only
	// Version last seen for this server, written back after a sync so
	// capability checks work offline.
	LastVersion string `mapstructure:"last_version"`
}

// IsCloud reports whether this connection targets the multi-tenant product.
func (c ConnectionConfig) IsCloud() bool {
	return c.Kind == "cloud"
}

// LoadConnections reads the connections list from a viper instance that has
// already located its config file.
func LoadConnections(v *viper.Viper) ([]ConnectionConfig, error) {
	var conns []ConnectionConfig
	if err := v.UnmarshalKey("connections", &conns); err != nil {
		return nil, fmt.Errorf("parsing connections: %w", err)
	}
	seen := make(map[string]bool, len(conns))
	for _, c := range conns {
		if c.ID == "" {
			return nil, fmt.Errorf("connection with empty id in config")
		}
		if c.URL == "" {
			return nil, fmt.Errorf("connection %q has no url", c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate connection id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return conns, nil
}
