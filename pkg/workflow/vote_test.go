package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

func TestExtractVoteKeywordWindow(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		voter      providers.Provider
		candidates []providers.Provider
		want       providers.Provider
		ok         bool
	}{
		{
			name:       "pick keyword",
			text:       "I pick claude because its draft was the most rigorous.",
			voter:      providers.Gemini,
			candidates: []providers.Provider{providers.Claude, providers.Gemini},
			want:       providers.Claude,
			ok:         true,
		},
		{
			name:       "vote keyword",
			text:       "After consideration, I vote for chatgpt.",
			voter:      providers.Claude,
			candidates: []providers.Provider{providers.Claude, providers.ChatGPT},
			want:       providers.ChatGPT,
			ok:         true,
		},
		{
			name:       "self vote excluded",
			text:       "I vote for claude.",
			voter:      providers.Claude,
			candidates: []providers.Provider{providers.Claude, providers.Gemini},
			want:       "",
			ok:         false,
		},
		{
			name:       "fallback to first mention",
			text:       "The gemini draft was strong, stronger than chatgpt's.",
			voter:      providers.Claude,
			candidates: []providers.Provider{providers.Claude, providers.Gemini, providers.ChatGPT},
			want:       providers.Gemini,
			ok:         true,
		},
		{
			name:       "no candidate mentioned",
			text:       "They were all fine.",
			voter:      providers.Claude,
			candidates: []providers.Provider{providers.Claude, providers.Gemini},
			want:       "",
			ok:         false,
		},
		{
			name:       "keyword match beats earlier bare mention",
			text:       "gemini opened well. Still, I choose chatgpt for its clarity.",
			voter:      providers.Claude,
			candidates: []providers.Provider{providers.Gemini, providers.ChatGPT},
			want:       providers.ChatGPT,
			ok:         true,
		},
		{
			name:       "mention outside window falls back",
			text:       "I would select whichever response showed the deepest and most careful analysis of all the arguments, and that draft came from deepseek.",
			voter:      providers.Claude,
			candidates: []providers.Provider{providers.Claude, providers.DeepSeek},
			want:       providers.DeepSeek,
			ok:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractVote(tt.text, tt.voter, tt.candidates)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTallyVotesTieBreaksByEnumOrder(t *testing.T) {
	votes := map[providers.Provider]providers.Provider{
		providers.Claude:  providers.Gemini,
		providers.Gemini:  providers.ChatGPT,
		providers.ChatGPT: providers.Gemini,
		providers.Grok:    providers.ChatGPT,
	}
	// gemini and chatgpt have two votes each; gemini is earlier in the
	// enumeration.
	winner, ok := TallyVotes(votes)
	require.True(t, ok)
	assert.Equal(t, providers.Gemini, winner)
}

func TestTallyVotesEmpty(t *testing.T) {
	_, ok := TallyVotes(nil)
	assert.False(t, ok)
}

func TestSplitFinal(t *testing.T) {
	final, rationale := splitFinal("FINAL ANSWER: 42.\nRATIONALE: It always is.")
	assert.Equal(t, "42.", final)
	assert.Equal(t, "It always is.", rationale)

	final, rationale = splitFinal("Just a plain answer.")
	assert.Equal(t, "Just a plain answer.", final)
	assert.Empty(t, rationale)

	final, rationale = splitFinal("final answer:\nlowercase works\nrationale:\nso does this")
	assert.Equal(t, "lowercase works", final)
	assert.Equal(t, "so does this", rationale)
}
