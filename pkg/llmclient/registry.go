package llmclient

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// KeySource resolves a user's stored API key for a provider.
// Implemented by the keystore. Returns ErrNoKey (or an error wrapping it)
// when the user has no stored key for the provider.
type KeySource interface {
	Key(ctx context.Context, userID string, p providers.Provider) (string, error)
}

// ClientFactory constructs an AgentClient from resolved credentials.
// Swappable in tests to avoid real SDK backends.
type ClientFactory func(p providers.Provider, model, apiKey, baseURL string) (AgentClient, error)

// Registry produces per-user streaming clients for each provider.
//
// Resolution order per call: the user's stored key, then the process-wide
// environment key. Constructed clients are cached per (user, provider);
// Invalidate purges a user's entries so updated keys take effect.
// Read-mostly locking: lookups take a read lock, construction and
// invalidation take the write lock.
type Registry struct {
	keys    KeySource
	factory ClientFactory

	// llamaBaseURL overrides the default Llama endpoint (LLAMA_BASE_URL).
	llamaBaseURL string

	// modelOverrides maps provider → default model from configuration.
	modelOverrides map[providers.Provider]string

	mu    sync.RWMutex
	cache map[cacheKey]AgentClient
}

type cacheKey struct {
	userID   string
	provider providers.Provider
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Keys resolves user-stored keys. May be nil (environment keys only).
	Keys KeySource

	// Factory constructs clients. Nil means the any-llm-go backend.
	Factory ClientFactory

	// LlamaBaseURL overrides the default Llama endpoint.
	LlamaBaseURL string

	// ModelOverrides sets per-provider default models from configuration.
	ModelOverrides map[providers.Provider]string
}

// NewRegistry creates a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	factory := cfg.Factory
	if factory == nil {
		factory = newAnyLLMClient
	}
	return &Registry{
		keys:           cfg.Keys,
		factory:        factory,
		llamaBaseURL:   cfg.LlamaBaseURL,
		modelOverrides: cfg.ModelOverrides,
		cache:          make(map[cacheKey]AgentClient),
	}
}

// GetClient returns a streaming client for (userID, provider).
// Returns ErrNoKey when no usable key exists; callers treat that as
// "provider absent", not a failure.
func (r *Registry) GetClient(ctx context.Context, userID string, p providers.Provider) (AgentClient, error) {
	if !p.IsValid() {
		return nil, ErrNoKey
	}

	key := cacheKey{userID: userID, provider: p}
	r.mu.RLock()
	client, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	apiKey, err := r.resolveKey(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	model := p.DefaultModel()
	if m, ok := r.modelOverrides[p]; ok && m != "" {
		model = m
	}

	client, err = r.factory(p, model, apiKey, r.llamaBaseURL)
	if err != nil {
		return nil, &KeyRejectedError{Provider: p, Reason: err.Error()}
	}

	r.mu.Lock()
	// Another goroutine may have constructed the same client concurrently;
	// keep the first one so all callers share a single instance.
	if existing, ok := r.cache[key]; ok {
		client = existing
	} else {
		r.cache[key] = client
	}
	r.mu.Unlock()

	return client, nil
}

// Invalidate purges every cached client for a user. Called on
// authentication so updated stored keys take effect.
func (r *Registry) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.userID == userID {
			delete(r.cache, key)
		}
	}
}

// Availability returns every provider with a usable client for the user,
// in canonical enumeration order.
func (r *Registry) Availability(ctx context.Context, userID string) []providers.Provider {
	var available []providers.Provider
	for _, p := range providers.All() {
		if _, err := r.GetClient(ctx, userID, p); err == nil {
			available = append(available, p)
		}
	}
	return available
}

// resolveKey applies the stored-key-then-environment resolution order.
func (r *Registry) resolveKey(ctx context.Context, userID string, p providers.Provider) (string, error) {
	if r.keys != nil {
		apiKey, err := r.keys.Key(ctx, userID, p)
		switch {
		case err == nil && apiKey != "":
			return apiKey, nil
		case err != nil && !errors.Is(err, ErrNoKey):
			// The store is reachable but failing: availability is unknown,
			// not empty. Fall back to environment keys but log it.
			slog.Warn("Key store lookup failed, falling back to environment",
				"user_id", userID, "provider", p, "error", err)
		}
	}

	if envKey := os.Getenv(p.APIKeyEnvVar()); envKey != "" {
		return envKey, nil
	}
	// Llama may run against a local endpoint with no key at all.
	if p == providers.Llama && r.llamaBaseURL != "" {
		return "", nil
	}
	return "", ErrNoKey
}
