// Package llmclient provides per-user streaming clients for each supported
// LLM provider, plus the registry that constructs and caches them.
//
// The streaming contract is uniform across providers: Stream returns a
// channel of Chunk values (zero or more TextChunk, then exactly one
// SummaryChunk), closed by the implementation when generation finishes or
// the context is cancelled. Errors that occur after the stream opens surface
// as an ErrorChunk; the initial error return is non-nil only when the stream
// could not start at all.
package llmclient

import (
	"context"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Chunk is one element of a streaming completion.
type Chunk interface {
	isChunk()
}

// TextChunk carries an incremental text delta.
type TextChunk struct {
	Text string
}

// SummaryChunk terminates a successful stream and carries token accounting.
// Streaming backends do not report usage reliably mid-stream, so counts are
// estimated from character length (see EstimateTokens).
type SummaryChunk struct {
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// ErrorChunk terminates a failed stream.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (*TextChunk) isChunk()    {}
func (*SummaryChunk) isChunk() {}
func (*ErrorChunk) isChunk()   {}

// StreamRequest carries everything a provider call needs.
type StreamRequest struct {
	// ModelID overrides the client's default model when non-empty.
	ModelID string

	SystemPrompt string
	UserPrompt   string

	// MaxTokens caps completion output. Zero means the provider ceiling.
	MaxTokens int

	Temperature float64
}

// AgentClient is a streaming client bound to one (user, provider) pair.
// Implementations must be safe for concurrent use and must release the
// underlying connection promptly (within one second) on cancellation.
type AgentClient interface {
	// Provider identifies the backend this client talks to.
	Provider() providers.Provider

	// Model returns the default model identifier for this client.
	Model() string

	// Stream sends the request and returns a channel of chunks. Callers
	// must drain the channel to avoid goroutine leaks.
	Stream(ctx context.Context, req StreamRequest) (<-chan Chunk, error)
}

// estimateTokens approximates token count from character length. English
// text averages roughly 4 characters per token across common tokenizers;
// this avoids a tokenizer dependency and must not undercount badly.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateTokens is the exported form used by the budget governor for
// pre-flight estimates, so both sides count with the same heuristic.
func EstimateTokens(text string) int {
	return estimateTokens(text)
}
