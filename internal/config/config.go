package config

import "strings"

// Config holds all configuration options for the service registry
type Config struct {
	// Service roots to harvest at startup, comma-separated. Each entry
	// is an absolute URL or a path relative to the resolved destination.
	Services     string   `mapstructure:"services"`
	ServiceRoots []string // parsed from Services

	// Destination resolution
	Destination  string `mapstructure:"destination"`  // named destination for all remote calls
	Destinations string `mapstructure:"destinations"` // JSON endpoint list (usually via ODATA_DESTINATIONS)

	// Technical credential fallback when no destination list is given
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Operation gating
	ReadOnly bool `mapstructure:"read_only"` // hide/refuse all modifying operations

	// Output and debugging
	Verbose bool `mapstructure:"verbose"`
	Debug   bool `mapstructure:"debug"`
	Trace   bool `mapstructure:"trace"` // print tools and exit
}

// HasBasicAuth returns true if a technical username/password is configured
func (c *Config) HasBasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// ParseServiceRoots splits the comma-separated service list.
func (c *Config) ParseServiceRoots() {
	c.ServiceRoots = nil
	for _, part := range strings.Split(c.Services, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			c.ServiceRoots = append(c.ServiceRoots, part)
		}
	}
}
