package config

import (
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Config is the complete runtime configuration assembled from quorum.yaml
// and providers.yaml after defaults have been applied and validation has
// passed.
type Config struct {
	System        *SystemConfig
	Defaults      *DefaultsConfig
	Collaboration *CollaborationConfig
	Providers     map[providers.Provider]*ProviderConfig
}

// Stats summarizes the loaded configuration for startup logging.
type Stats struct {
	EnabledProviders  int
	OverriddenModels  int
	AllowedWSOrigins  int
	DefaultCollabMode string
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	overridden := 0
	for _, pc := range c.Providers {
		if pc.Model != "" {
			overridden++
		}
	}
	return Stats{
		EnabledProviders:  len(c.EnabledProviders()),
		OverriddenModels:  overridden,
		AllowedWSOrigins:  len(c.System.AllowedWSOrigins),
		DefaultCollabMode: string(c.Defaults.CollabMode),
	}
}

// EnabledProviders returns the providers that are not explicitly disabled,
// in enumeration order.
func (c *Config) EnabledProviders() []providers.Provider {
	var enabled []providers.Provider
	for _, p := range providers.All() {
		pc, ok := c.Providers[p]
		if ok && pc.Enabled != nil && !*pc.Enabled {
			continue
		}
		enabled = append(enabled, p)
	}
	return enabled
}

// ModelFor returns the configured model for a provider, falling back to the
// provider's default model.
func (c *Config) ModelFor(p providers.Provider) string {
	if pc, ok := c.Providers[p]; ok && pc.Model != "" {
		return pc.Model
	}
	return p.DefaultModel()
}

// ModelOverrides returns only the models that differ from provider defaults,
// keyed by provider. Workflow options start from this map.
func (c *Config) ModelOverrides() map[providers.Provider]string {
	overrides := make(map[providers.Provider]string)
	for p, pc := range c.Providers {
		if pc.Model != "" && pc.Model != p.DefaultModel() {
			overrides[p] = pc.Model
		}
	}
	return overrides
}
