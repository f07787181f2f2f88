package config

// ProviderConfig holds per-provider overrides from providers.yaml. All
// fields are optional; an absent provider entry uses built-in defaults.
type ProviderConfig struct {
	// Model overrides the provider's default model identifier.
	Model string `yaml:"model,omitempty"`

	// BaseURL overrides the provider's API endpoint, for proxies and
	// compatible gateways.
	BaseURL string `yaml:"base_url,omitempty"`

	// Enabled disables the provider entirely when set to false.
	Enabled *bool `yaml:"enabled,omitempty"`
}
