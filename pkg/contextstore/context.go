// Package contextstore keeps per (user, session) conversation history with
// a hard size bound, three formatting modes, and optional persistence.
package contextstore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Mode selects how much history is embedded into prompts.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeSummary Mode = "summary"
	ModeFull    Mode = "full"
)

// IsValid reports whether the mode is one of the known values.
func (m Mode) IsValid() bool {
	switch m {
	case ModeNone, ModeSummary, ModeFull:
		return true
	}
	return false
}

const (
	// MinMaxSize is the floor for the configurable size bound.
	MinMaxSize = 1000

	// DefaultMaxSize bounds history when the session does not configure one.
	DefaultMaxSize = 10000

	// nearLimitRatio is where the caller gets warned.
	nearLimitRatio = 0.8

	// trimTargetRatio is where Trim stops removing.
	trimTargetRatio = 0.9

	// summaryRecentWindow is how many of the newest messages the summary
	// mode keeps verbatim.
	summaryRecentWindow = 4
)

// RoleUser marks messages typed by the human.
const RoleUser = "user"

// RoleAssistant marks messages produced by an agent or a collaboration.
const RoleAssistant = "assistant"

// Message is one stored conversation entry. Assistant messages carry the
// producing provider; user messages leave it empty.
type Message struct {
	Role     string
	Provider providers.Provider
	Text     string
	At       time.Time
}

func (m Message) label() string {
	if m.Role == RoleUser {
		return "User"
	}
	if m.Provider != "" {
		return m.Provider.DisplayName()
	}
	return "Assistant"
}

// Status is returned after every mutation so the gateway can surface
// near-limit warnings.
type Status struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	IsNearLimit bool    `json:"is_near_limit"`
	PercentUsed float64 `json:"percent_used"`
	Trimmed     int     `json:"trimmed,omitempty"`
}

// Context is the history for one (user, session) pair. All methods are safe
// for concurrent use. The size counter always equals the exact sum of
// stored message text lengths.
type Context struct {
	userID    string
	sessionID string

	mu       sync.Mutex
	mode     Mode
	maxSize  int
	size     int
	messages []Message
}

func newContext(userID, sessionID string) *Context {
	return &Context{
		userID:    userID,
		sessionID: sessionID,
		mode:      ModeFull,
		maxSize:   DefaultMaxSize,
	}
}

// UserID returns the owning user.
func (c *Context) UserID() string { return c.userID }

// SessionID returns the owning session.
func (c *Context) SessionID() string { return c.sessionID }

// Mode returns the current formatting mode.
func (c *Context) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the formatting mode. Invalid values are rejected;
// stored messages are never touched, so switching to none and back to full
// restores the full history.
func (c *Context) SetMode(m Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("invalid context mode %q", m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
	return nil
}

// MaxSize returns the configured bound.
func (c *Context) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// SetMaxSize updates the bound, clamped to MinMaxSize, and trims if the
// stored history no longer fits.
func (c *Context) SetMaxSize(n int) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < MinMaxSize {
		n = MinMaxSize
	}
	c.maxSize = n
	trimmed := 0
	if c.size > c.maxSize {
		trimmed = c.trimLocked()
	}
	return c.statusLocked(trimmed)
}

// AddUserMessage appends a user entry.
func (c *Context) AddUserMessage(text string) Status {
	return c.add(Message{Role: RoleUser, Text: text, At: time.Now().UTC()})
}

// AddAssistantResponse appends an agent entry tagged with its provider.
func (c *Context) AddAssistantResponse(p providers.Provider, text string) Status {
	return c.add(Message{Role: RoleAssistant, Provider: p, Text: text, At: time.Now().UTC()})
}

func (c *Context) add(m Message) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	c.size += len(m.Text)
	trimmed := 0
	if c.size > c.maxSize {
		trimmed = c.trimLocked()
	}
	return c.statusLocked(trimmed)
}

// Reset drops all stored messages.
func (c *Context) Reset() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.size = 0
	return c.statusLocked(0)
}

// Trim removes the oldest messages one at a time until the size is at most
// 90% of the bound. Returns how many were removed.
func (c *Context) Trim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trimLocked()
}

func (c *Context) trimLocked() int {
	target := int(trimTargetRatio * float64(c.maxSize))
	removed := 0
	for c.size > target && len(c.messages) > 0 {
		c.size -= len(c.messages[0].Text)
		c.messages = c.messages[1:]
		removed++
	}
	return removed
}

// Size returns the exact sum of stored message lengths.
func (c *Context) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MessageCount returns the number of stored messages.
func (c *Context) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Status returns the current counters without mutating.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(0)
}

func (c *Context) statusLocked(trimmed int) Status {
	pct := 0.0
	if c.maxSize > 0 {
		pct = float64(c.size) / float64(c.maxSize)
	}
	return Status{
		Size:        c.size,
		MaxSize:     c.maxSize,
		IsNearLimit: pct >= nearLimitRatio,
		PercentUsed: pct * 100,
		Trimmed:     trimmed,
	}
}

// FormatForPrompt renders the history for embedding per the current mode:
// none yields an empty string, full yields every message labelled by
// role or provider, summary collapses everything but the newest few
// messages into one synthesized paragraph.
func (c *Context) FormatForPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModeNone:
		return ""
	case ModeFull:
		return formatMessages(c.messages)
	case ModeSummary:
		if len(c.messages) <= summaryRecentWindow {
			return formatMessages(c.messages)
		}
		older := c.messages[:len(c.messages)-summaryRecentWindow]
		recent := c.messages[len(c.messages)-summaryRecentWindow:]
		out := summarise(older, c.maxSize/4) + "\n" + formatMessages(recent)
		if len(out) > c.maxSize {
			out = out[:c.maxSize]
		}
		return out
	}
	return ""
}

func formatMessages(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.label(), m.Text)
	}
	return b.String()
}

// summarise collapses older messages into one paragraph without a model
// call: each message contributes its opening clause, and the whole
// paragraph is bounded by budget characters.
func summarise(msgs []Message, budget int) string {
	const perMessage = 80
	var parts []string
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if idx := strings.IndexAny(text, ".\n"); idx > 0 && idx < perMessage {
			text = text[:idx]
		} else if len(text) > perMessage {
			text = text[:perMessage]
		}
		parts = append(parts, fmt.Sprintf("%s said: %s", m.label(), text))
	}
	summary := fmt.Sprintf("[Summary of %d earlier messages] %s", len(msgs), strings.Join(parts, "; "))
	if len(summary) > budget && budget > 0 {
		summary = summary[:budget]
	}
	return summary
}
