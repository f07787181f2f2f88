package contextstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Persister saves conversation history across process restarts. All
// implementations must be safe for concurrent use.
type Persister interface {
	// SaveMessage appends one message to the (user, session) history.
	SaveMessage(ctx context.Context, userID, sessionID string, m Message) error

	// LoadMessages returns the stored history in chronological order.
	LoadMessages(ctx context.Context, userID, sessionID string) ([]Message, error)

	// DeleteMessages drops the stored history.
	DeleteMessages(ctx context.Context, userID, sessionID string) error
}

// UnavailableError wraps a persistence failure. The gateway treats it as
// the signal to enter Degraded mode: chat keeps working, history is
// disabled.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("context store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Store hands out Contexts keyed by (user, session) and mirrors mutations
// to the Persister when one is configured.
type Store struct {
	persister Persister

	mu       sync.Mutex
	contexts map[string]*Context
}

// NewStore creates a Store. persister may be nil for memory-only operation.
func NewStore(persister Persister) *Store {
	return &Store{
		persister: persister,
		contexts:  make(map[string]*Context),
	}
}

func storeKey(userID, sessionID string) string {
	return userID + "|" + sessionID
}

// GetOrCreate returns the Context for the pair, loading persisted history
// on first access. A persistence failure returns an UnavailableError along
// with a memory-only Context so chat can continue degraded.
func (s *Store) GetOrCreate(ctx context.Context, userID, sessionID string) (*Context, error) {
	s.mu.Lock()
	if c, ok := s.contexts[storeKey(userID, sessionID)]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c := newContext(userID, sessionID)
	var loadErr error
	if s.persister != nil {
		msgs, err := s.persister.LoadMessages(ctx, userID, sessionID)
		if err != nil {
			loadErr = &UnavailableError{Err: err}
		} else {
			for _, m := range msgs {
				c.add(m)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.contexts[storeKey(userID, sessionID)]; ok {
		return existing, nil
	}
	s.contexts[storeKey(userID, sessionID)] = c
	return c, loadErr
}

// AddUserMessage appends and persists a user entry.
func (s *Store) AddUserMessage(ctx context.Context, c *Context, text string) (Status, error) {
	m := Message{Role: RoleUser, Text: text, At: time.Now().UTC()}
	status := c.add(m)
	return status, s.persist(ctx, c, m)
}

// AddAssistantResponse appends and persists an agent entry.
func (s *Store) AddAssistantResponse(ctx context.Context, c *Context, m Message) (Status, error) {
	status := c.add(m)
	return status, s.persist(ctx, c, m)
}

func (s *Store) persist(ctx context.Context, c *Context, m Message) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveMessage(ctx, c.UserID(), c.SessionID(), m); err != nil {
		return &UnavailableError{Err: err}
	}
	return nil
}

// Reset clears the Context and its persisted history.
func (s *Store) Reset(ctx context.Context, c *Context) (Status, error) {
	status := c.Reset()
	if s.persister == nil {
		return status, nil
	}
	if err := s.persister.DeleteMessages(ctx, c.UserID(), c.SessionID()); err != nil {
		return status, &UnavailableError{Err: err}
	}
	return status, nil
}

// MemoryPersister is the in-process Persister used in tests.
type MemoryPersister struct {
	mu       sync.Mutex
	messages map[string][]Message

	// FailWith, when set, makes every call fail. Tests use it to drive
	// Degraded-mode behaviour.
	FailWith error
}

// NewMemoryPersister creates an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{messages: make(map[string][]Message)}
}

// SaveMessage implements Persister.
func (p *MemoryPersister) SaveMessage(_ context.Context, userID, sessionID string, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	key := storeKey(userID, sessionID)
	p.messages[key] = append(p.messages[key], m)
	return nil
}

// LoadMessages implements Persister.
func (p *MemoryPersister) LoadMessages(_ context.Context, userID, sessionID string) ([]Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return nil, p.FailWith
	}
	msgs := p.messages[storeKey(userID, sessionID)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// DeleteMessages implements Persister.
func (p *MemoryPersister) DeleteMessages(_ context.Context, userID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	delete(p.messages, storeKey(userID, sessionID))
	return nil
}
