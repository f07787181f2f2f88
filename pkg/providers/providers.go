// Package providers defines the closed set of supported LLM providers and
// their static metadata: display names, default models, pricing, context
// windows, and the environment variables their API keys are read from.
package providers

// Provider identifies one of the supported LLM backends.
type Provider string

// Supported providers, in canonical enumeration order. This order is
// load-bearing: vote tie-breaks and synthesiser selection fall back to it.
const (
	Claude   Provider = "claude"
	Gemini   Provider = "gemini"
	ChatGPT  Provider = "chatgpt"
	Grok     Provider = "grok"
	DeepSeek Provider = "deepseek"
	Llama    Provider = "llama"
)

// All returns every supported provider in canonical enumeration order.
func All() []Provider {
	return []Provider{Claude, Gemini, ChatGPT, Grok, DeepSeek, Llama}
}

// IsValid checks if the provider is one of the supported set.
func (p Provider) IsValid() bool {
	switch p {
	case Claude, Gemini, ChatGPT, Grok, DeepSeek, Llama:
		return true
	default:
		return false
	}
}

// Index returns the provider's position in the canonical enumeration order,
// or len(All()) for unknown providers so they sort last.
func (p Provider) Index() int {
	for i, q := range All() {
		if p == q {
			return i
		}
	}
	return len(All())
}

// DisplayName returns the human-readable provider name.
func (p Provider) DisplayName() string {
	switch p {
	case Claude:
		return "Claude"
	case Gemini:
		return "Gemini"
	case ChatGPT:
		return "ChatGPT"
	case Grok:
		return "Grok"
	case DeepSeek:
		return "DeepSeek"
	case Llama:
		return "Llama"
	default:
		return string(p)
	}
}

// DefaultModel returns the model identifier used when the caller does not
// request a specific model.
func (p Provider) DefaultModel() string {
	switch p {
	case Claude:
		return "claude-sonnet-4-20250514"
	case Gemini:
		return "gemini-2.0-flash"
	case ChatGPT:
		return "gpt-4o"
	case Grok:
		return "grok-3"
	case DeepSeek:
		return "deepseek-chat"
	case Llama:
		return "llama-3.3-70b"
	default:
		return ""
	}
}

// APIKeyEnvVar returns the environment variable holding the provider's
// process-wide API key. A missing variable disables only that provider.
func (p Provider) APIKeyEnvVar() string {
	switch p {
	case Claude:
		return "ANTHROPIC_API_KEY"
	case Gemini:
		return "GEMINI_API_KEY"
	case ChatGPT:
		return "OPENAI_API_KEY"
	case Grok:
		return "XAI_API_KEY"
	case DeepSeek:
		return "DEEPSEEK_API_KEY"
	case Llama:
		return "LLAMA_API_KEY"
	default:
		return ""
	}
}

// MaxOutputTokens returns the provider's output ceiling per completion.
// DeepSeek allows 8k output tokens; the other chat-completions providers
// cap at 4k. Claude and Gemini values follow their published model limits.
func (p Provider) MaxOutputTokens() int {
	switch p {
	case DeepSeek:
		return 8192
	case Claude, Gemini:
		return 8192
	default:
		return 4096
	}
}
