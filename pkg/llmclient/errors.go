package llmclient

import (
	"errors"
	"fmt"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// ErrNoKey indicates no API key is available for a (user, provider) pair.
// This is not surfaced to callers as a failure; the provider is simply
// absent from the availability set.
var ErrNoKey = errors.New("no API key available")

// KeyRejectedError indicates the provider refused the configured key.
type KeyRejectedError struct {
	Provider providers.Provider
	Reason   string
}

func (e *KeyRejectedError) Error() string {
	return fmt.Sprintf("%s rejected API key: %s", e.Provider, e.Reason)
}

// RegistryUnavailableError indicates the key backing store could not be
// consulted, so availability is unknown rather than empty.
type RegistryUnavailableError struct {
	Err error
}

func (e *RegistryUnavailableError) Error() string {
	return fmt.Sprintf("client registry unavailable: %v", e.Err)
}

func (e *RegistryUnavailableError) Unwrap() error {
	return e.Err
}
