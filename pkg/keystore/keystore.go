// Package keystore stores per-user provider API keys and serves them to
// the client registry. Keys arrive already encrypted by the outer platform;
// this layer treats them as opaque strings.
package keystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Record is one stored key.
type Record struct {
	KeyID         string
	UserID        string
	Provider      providers.Provider
	Key           string
	IsValid       bool
	LastValidated time.Time
}

// Store persists user keys. All implementations must be safe for
// concurrent use.
type Store interface {
	llmclient.KeySource

	// Put inserts or replaces the user's key for a provider and returns
	// the record's key id.
	Put(ctx context.Context, userID string, p providers.Provider, key string) (string, error)

	// Delete removes the user's key for a provider. Deleting a missing
	// key is not an error.
	Delete(ctx context.Context, userID string, p providers.Provider) error

	// MarkValidated records the outcome of a key validation check.
	MarkValidated(ctx context.Context, userID string, p providers.Provider, valid bool) error

	// List returns all of the user's records, ordered by provider.
	List(ctx context.Context, userID string) ([]Record, error)
}

// MemoryStore is the in-process Store used in tests and for keyless
// single-user deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // userID|provider
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func recordKey(userID string, p providers.Provider) string {
	return userID + "|" + string(p)
}

// Key implements llmclient.KeySource. Invalidated keys resolve as absent
// so the registry falls through to environment keys.
func (s *MemoryStore) Key(_ context.Context, userID string, p providers.Provider) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey(userID, p)]
	if !ok || !r.IsValid {
		return "", llmclient.ErrNoKey
	}
	return r.Key, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, userID string, p providers.Provider, key string) (string, error) {
	if !p.IsValid() {
		return "", fmt.Errorf("unknown provider %q", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.records[recordKey(userID, p)] = &Record{
		KeyID:    id,
		UserID:   userID,
		Provider: p,
		Key:      key,
		IsValid:  true,
	}
	return id, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, userID string, p providers.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(userID, p))
	return nil
}

// MarkValidated implements Store.
func (s *MemoryStore) MarkValidated(_ context.Context, userID string, p providers.Provider, valid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordKey(userID, p)]
	if !ok {
		return llmclient.ErrNoKey
	}
	r.IsValid = valid
	r.LastValidated = time.Now().UTC()
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, userID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, p := range providers.All() {
		if r, ok := s.records[recordKey(userID, p)]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}
