package llmclient

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// grokBaseURL is xAI's OpenAI-compatible endpoint.
const grokBaseURL = "https://api.x.ai/v1"

// defaultLlamaBaseURL is used when LLAMA_BASE_URL is not set.
const defaultLlamaBaseURL = "https://api.llama.com/compat/v1"

// geminiSafetyFallback replaces content that Gemini's safety layer blocked.
// The stream still produces usable text so the collaboration can continue.
const geminiSafetyFallback = "[Content was filtered by the provider's safety system. " +
	"The agent could not contribute to this part of the discussion.]"

// anyLLMClient implements AgentClient on top of github.com/mozilla-ai/any-llm-go.
type anyLLMClient struct {
	provider providers.Provider
	model    string
	backend  anyllmlib.Provider
}

// newAnyLLMClient constructs the backend for a provider. baseURL is only
// consulted for Llama (LLAMA_BASE_URL override); Grok always uses xAI's
// OpenAI-compatible endpoint.
func newAnyLLMClient(p providers.Provider, model, apiKey, baseURL string) (AgentClient, error) {
	var (
		backend anyllmlib.Provider
		err     error
	)
	switch p {
	case providers.Claude:
		backend, err = anthropic.New(anyllmlib.WithAPIKey(apiKey))
	case providers.Gemini:
		backend, err = gemini.New(anyllmlib.WithAPIKey(apiKey))
	case providers.ChatGPT:
		backend, err = anyllmoai.New(anyllmlib.WithAPIKey(apiKey))
	case providers.DeepSeek:
		backend, err = deepseek.New(anyllmlib.WithAPIKey(apiKey))
	case providers.Grok:
		backend, err = anyllmoai.New(anyllmlib.WithAPIKey(apiKey), anyllmlib.WithBaseURL(grokBaseURL))
	case providers.Llama:
		if baseURL == "" {
			baseURL = defaultLlamaBaseURL
		}
		opts := []anyllmlib.Option{anyllmlib.WithBaseURL(baseURL)}
		if apiKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(apiKey))
		}
		backend, err = anyllmoai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", p, err)
	}

	if model == "" {
		model = p.DefaultModel()
	}
	return &anyLLMClient{provider: p, model: model, backend: backend}, nil
}

// Provider implements AgentClient.
func (c *anyLLMClient) Provider() providers.Provider {
	return c.provider
}

// Model implements AgentClient.
func (c *anyLLMClient) Model() string {
	return c.model
}

// Stream implements AgentClient.
func (c *anyLLMClient) Stream(ctx context.Context, req StreamRequest) (<-chan Chunk, error) {
	model := req.ModelID
	if model == "" {
		model = c.model
	}

	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: buildMessages(c.provider, req.SystemPrompt, req.UserPrompt),
	}
	mt := outputCap(c.provider, req.MaxTokens)
	params.MaxTokens = &mt
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}

	backendChunks, backendErrs := c.backend.CompletionStream(ctx, params)

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)

		var sb strings.Builder
		finish := ""

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}

			// Deltas without plain text (tool calls, function literals,
			// metadata-only frames) are dropped, never serialised into
			// output.
			text := choice.Delta.Content
			if text == "" {
				continue
			}

			sb.WriteString(text)
			select {
			case out <- &TextChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			msg := err.Error()
			if ctx.Err() != nil {
				msg = fmt.Sprintf("%s call cancelled: %v", c.provider, ctx.Err())
			}
			select {
			case out <- &ErrorChunk{Message: msg, Retryable: retryableText(msg) && ctx.Err() == nil}:
			case <-ctx.Done():
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		text := sb.String()
		if safetyFinish(finish) {
			switch c.provider {
			case providers.Claude:
				// Claude safety blocks surface as an explicit error with reason.
				out <- &ErrorChunk{
					Message:   fmt.Sprintf("claude blocked the response: %s", finish),
					Retryable: false,
				}
				return
			case providers.Gemini:
				if text == "" {
					text = geminiSafetyFallback
					out <- &TextChunk{Text: text}
				}
			}
		}

		if text == "" {
			// An empty body is fatal downstream; substitute a synthetic
			// chunk that explains the failure instead.
			text = fmt.Sprintf("[%s returned an empty response from model %s]",
				c.provider.DisplayName(), model)
			select {
			case out <- &TextChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if finish == "" {
			finish = "stop"
		}
		out <- &SummaryChunk{
			InputTokens:  promptTokens(req),
			OutputTokens: estimateTokens(text),
			FinishReason: finish,
		}
	}()

	return out, nil
}

// buildMessages converts a system/user prompt pair into the provider's
// message shape. Gemini gets its system instructions as a synthetic
// user→model exchange ahead of the real user prompt; the other providers
// take a system-role message (any-llm maps it to the native field where one
// exists, e.g. Anthropic's separate system parameter).
func buildMessages(p providers.Provider, systemPrompt, userPrompt string) []anyllmlib.Message {
	if p == providers.Gemini && systemPrompt != "" {
		return []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: systemPrompt},
			{Role: anyllmlib.RoleAssistant, Content: "Understood. I will follow these instructions."},
			{Role: anyllmlib.RoleUser, Content: userPrompt},
		}
	}

	var messages []anyllmlib.Message
	if systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: userPrompt})
	return messages
}

// outputCap bounds requested as the provider's output ceiling.
func outputCap(p providers.Provider, requested int) int {
	ceiling := p.MaxOutputTokens()
	if requested > 0 && requested < ceiling {
		return requested
	}
	return ceiling
}

// promptTokens estimates input tokens for a request, including a small
// per-message overhead for role and formatting tokens.
func promptTokens(req StreamRequest) int {
	return estimateTokens(req.SystemPrompt) + estimateTokens(req.UserPrompt) + 8
}

// safetyFinish reports whether a finish reason indicates a safety block.
func safetyFinish(reason string) bool {
	switch strings.ToLower(reason) {
	case "safety", "content_filter", "blocked", "prohibited_content":
		return true
	default:
		return false
	}
}

// retryableText reports whether an upstream error message looks transient.
// Conservative by design: unknown failures are treated as fatal so the
// partial-failure policy can degrade instead of burning retry budget.
func retryableText(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504",
		"timeout", "timed out", "deadline exceeded",
		"overloaded", "temporarily", "connection reset", "connection refused",
		"eof",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
