package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// QuorumYAMLConfig represents the complete quorum.yaml file structure
type QuorumYAMLConfig struct {
	System        *SystemConfig        `yaml:"system"`
	Defaults      *DefaultsConfig      `yaml:"defaults"`
	Collaboration *CollaborationConfig `yaml:"collaboration"`
}

// ProvidersYAMLConfig represents the complete providers.yaml file structure
type ProvidersYAMLConfig struct {
	Providers map[string]*ProviderConfig `yaml:"providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined values over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"enabled_providers", stats.EnabledProviders,
		"overridden_models", stats.OverriddenModels,
		"allowed_ws_origins", stats.AllowedWSOrigins,
		"default_collab_mode", stats.DefaultCollabMode)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load quorum.yaml (system, defaults, collaboration)
	quorumConfig, err := loader.loadQuorumYAML()
	if err != nil {
		return nil, NewLoadError("quorum.yaml", err)
	}

	// 2. Load providers.yaml (optional; absent means built-in defaults)
	providerConfigs, err := loader.loadProvidersYAML()
	if err != nil {
		return nil, NewLoadError("providers.yaml", err)
	}

	// 3. Merge user-provided sections into built-in defaults
	// (non-zero values override)
	system := DefaultSystemConfig()
	if quorumConfig.System != nil {
		if err := mergo.Merge(system, quorumConfig.System, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge system config: %w", err)
		}
	}

	defaults := DefaultDefaultsConfig()
	if quorumConfig.Defaults != nil {
		if err := mergo.Merge(defaults, quorumConfig.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge session defaults: %w", err)
		}
	}

	collaboration := DefaultCollaborationConfig()
	if quorumConfig.Collaboration != nil {
		if err := mergo.Merge(collaboration, quorumConfig.Collaboration, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge collaboration config: %w", err)
		}
	}

	return &Config{
		System:        system,
		Defaults:      defaults,
		Collaboration: collaboration,
		Providers:     resolveProviderConfigs(providerConfigs),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadQuorumYAML() (*QuorumYAMLConfig, error) {
	var config QuorumYAMLConfig

	if err := l.loadYAML("quorum.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadProvidersYAML() (map[string]*ProviderConfig, error) {
	var config ProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.Providers = make(map[string]*ProviderConfig)

	err := l.loadYAML("providers.yaml", &config)
	if err != nil {
		// providers.yaml is optional
		if errors.Is(err, ErrConfigNotFound) {
			return config.Providers, nil
		}
		return nil, err
	}

	return config.Providers, nil
}

// resolveProviderConfigs converts string-keyed YAML entries to provider-keyed
// entries. Unknown names survive to validation so they fail loudly instead of
// being silently dropped.
func resolveProviderConfigs(raw map[string]*ProviderConfig) map[providers.Provider]*ProviderConfig {
	resolved := make(map[providers.Provider]*ProviderConfig, len(raw))
	for name, pc := range raw {
		if pc == nil {
			pc = &ProviderConfig{}
		}
		resolved[providers.Provider(name)] = pc
	}
	return resolved
}
