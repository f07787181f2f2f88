package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderIsValid(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		valid    bool
	}{
		{"claude", Claude, true},
		{"gemini", Gemini, true},
		{"chatgpt", ChatGPT, true},
		{"grok", Grok, true},
		{"deepseek", DeepSeek, true},
		{"llama", Llama, true},
		{"unknown", Provider("mistral"), false},
		{"empty", Provider(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.provider.IsValid())
		})
	}
}

func TestEnumerationOrderIsStable(t *testing.T) {
	all := All()
	require.Len(t, all, 6)
	assert.Equal(t, Claude, all[0])
	assert.Equal(t, Llama, all[5])
	for i, p := range all {
		assert.Equal(t, i, p.Index())
	}
	assert.Equal(t, len(all), Provider("nope").Index())
}

func TestEveryProviderHasMetadata(t *testing.T) {
	for _, p := range All() {
		assert.NotEmpty(t, p.DisplayName(), p)
		assert.NotEmpty(t, p.DefaultModel(), p)
		assert.NotEmpty(t, p.APIKeyEnvVar(), p)
		assert.Greater(t, p.MaxOutputTokens(), 0, p)
	}
}

func TestDeepSeekOutputCeiling(t *testing.T) {
	assert.Equal(t, 8192, DeepSeek.MaxOutputTokens())
	assert.Equal(t, 4096, ChatGPT.MaxOutputTokens())
	assert.Equal(t, 4096, Grok.MaxOutputTokens())
}

func TestPricingCost(t *testing.T) {
	pr := PriceFor(ChatGPT)
	cost := pr.Cost(1000, 1000)
	assert.InDelta(t, pr.InputPer1K+pr.OutputPer1K, cost, 1e-9)

	// Unknown providers estimate at the most expensive known row.
	unknown := PriceFor(Provider("mystery"))
	for _, p := range All() {
		known := PriceFor(p)
		assert.GreaterOrEqual(t,
			unknown.InputPer1K+unknown.OutputPer1K,
			known.InputPer1K+known.OutputPer1K)
	}
}

func TestContextWindowLookup(t *testing.T) {
	assert.Equal(t, 2_097_152, ContextWindow("gemini-1.5-pro-002"))
	assert.Equal(t, 1_048_576, ContextWindow("gemini-2.0-flash"))
	assert.Equal(t, 200_000, ContextWindow("claude-sonnet-4-20250514"))
	assert.Equal(t, defaultContextWindow, ContextWindow("some-local-model"))
}

func TestLargestContext(t *testing.T) {
	modelFor := func(p Provider) string { return p.DefaultModel() }

	got, ok := LargestContext([]Provider{Claude, ChatGPT, Gemini}, modelFor)
	require.True(t, ok)
	assert.Equal(t, Gemini, got)

	// Tie between providers with equal windows breaks by enumeration order.
	sameModel := func(Provider) string { return "claude-x" }
	got, ok = LargestContext([]Provider{DeepSeek, ChatGPT}, sameModel)
	require.True(t, ok)
	assert.Equal(t, ChatGPT, got)

	_, ok = LargestContext(nil, modelFor)
	assert.False(t, ok)
}
