package providers

import "strings"

// contextWindows maps model-name prefixes to declared input context windows.
// Used to pick the synthesiser ("largest-context agent") in collaborative
// modes. Checked in order; first prefix match wins.
var contextWindows = []struct {
	prefix string
	tokens int
}{
	{"gemini-1.5-pro", 2_097_152},
	{"gemini", 1_048_576},
	{"claude", 200_000},
	{"grok", 131_072},
	{"gpt-4o", 128_000},
	{"gpt-4-turbo", 128_000},
	{"gpt", 128_000},
	{"deepseek", 65_536},
	{"llama", 131_072},
}

// defaultContextWindow is assumed for models not in the table.
const defaultContextWindow = 32_768

// ContextWindow returns the declared context window for a model identifier.
func ContextWindow(modelID string) int {
	lower := strings.ToLower(modelID)
	for _, e := range contextWindows {
		if strings.HasPrefix(lower, e.prefix) {
			return e.tokens
		}
	}
	return defaultContextWindow
}

// LargestContext picks the provider with the largest context window among
// candidates, given each candidate's model id. Ties break by canonical
// enumeration order. Returns false if candidates is empty.
func LargestContext(candidates []Provider, modelFor func(Provider) string) (Provider, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	best := candidates[0]
	bestWin := ContextWindow(modelFor(best))
	for _, c := range candidates[1:] {
		win := ContextWindow(modelFor(c))
		if win > bestWin || (win == bestWin && c.Index() < best.Index()) {
			best = c
			bestWin = win
		}
	}
	return best, true
}
