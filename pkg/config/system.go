package config

const (
	defaultListenAddr = ":8080"
)

// SystemConfig holds server-level settings from the system section of
// quorum.yaml.
type SystemConfig struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// AllowedWSOrigins lists origins accepted for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// DefaultSystemConfig returns system settings with defaults applied.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		ListenAddr: defaultListenAddr,
	}
}
