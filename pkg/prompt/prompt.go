// Package prompt builds the system/user prompt pairs fed to provider
// streaming calls. Assembly is deterministic: the same inputs always
// produce the same pair.
package prompt

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

const (
	// MaxUserPromptChars bounds the assembled user prompt.
	MaxUserPromptChars = 5000

	// MaxArtifactChars bounds each embedded prior-phase artifact.
	MaxArtifactChars = 2000

	// TruncationSentinel marks text shortened at a whitespace boundary.
	TruncationSentinel = "[…truncated…]"

	// defaultUserPrompt substitutes for a blank input so the model always
	// receives a non-empty question.
	defaultUserPrompt = "Please share your perspective on the topic at hand."
)

// Style adjusts how agents relate to each other's contributions.
type Style string

const (
	StyleBalanced    Style = "balanced"
	StyleContrasting Style = "contrasting"
	StyleHarmonious  Style = "harmonious"
)

// IsValid reports whether the style is one of the known values.
func (s Style) IsValid() bool {
	switch s {
	case StyleBalanced, StyleContrasting, StyleHarmonious:
		return true
	}
	return false
}

var styleDirectives = map[Style]string{
	StyleBalanced:    "Weigh agreement and disagreement evenly; concede strong points and push back on weak ones.",
	StyleContrasting: "Deliberately take a different angle from the other contributions; surface disagreements explicitly.",
	StyleHarmonious:  "Build on the other contributions; look for common ground and synthesis over conflict.",
}

// rolePreambles are the fixed per-provider system-prompt openers.
var rolePreambles = map[providers.Provider]string{
	providers.Claude:   "You are Claude, a thoughtful analyst. You reason carefully, weigh nuance, and flag uncertainty rather than hide it.",
	providers.Gemini:   "You are Gemini, a versatile researcher. You bring broad cross-domain knowledge and connect ideas across fields.",
	providers.ChatGPT:  "You are ChatGPT, a clear communicator. You structure answers well and explain complex ideas simply.",
	providers.Grok:     "You are Grok, a direct and unconventional thinker. You challenge assumptions and are not afraid of contrarian takes.",
	providers.DeepSeek: "You are DeepSeek, a rigorous technical specialist. You favour precision, first-principles reasoning, and concrete detail.",
	providers.Llama:    "You are Llama, a pragmatic generalist. You give grounded, practical answers and avoid speculation.",
}

// Input collects everything the assembler needs for one provider call.
type Input struct {
	Provider providers.Provider
	Phase    string
	// PhaseDirective is the instruction for this phase, e.g. "Write your
	// own independent draft answer."
	PhaseDirective string
	// Question is the user's original question.
	Question string
	// Style is optional; empty means no style directive.
	Style Style
	// Role overrides the provider preamble with a mode-assigned role
	// (code_architect, expert_panel). Empty means use the preamble.
	Role string
	// Context is the formatted conversation history, possibly empty.
	Context string
	// Files are paths the user attached to the message. Contents are
	// served by an external file gateway; only the references are
	// embedded.
	Files []string
	// Artifacts are prior-phase outputs to embed, in order. Each is
	// truncated to MaxArtifactChars.
	Artifacts []Artifact
}

// Artifact is one prior-phase output embedded into a later prompt.
type Artifact struct {
	Label   string
	Content string
}

// Pair is the assembled prompt for one streaming call.
type Pair struct {
	System string
	User   string
}

// Assemble builds the prompt pair. The user prompt is never empty and never
// exceeds MaxUserPromptChars.
func Assemble(in Input) Pair {
	var sys strings.Builder
	if in.Role != "" {
		fmt.Fprintf(&sys, "You are acting as the %s in a multi-agent collaboration.", in.Role)
	} else if preamble, ok := rolePreambles[in.Provider]; ok {
		sys.WriteString(preamble)
	} else {
		sys.WriteString("You are an AI assistant participating in a multi-agent collaboration.")
	}
	sys.WriteString(" You are collaborating with other AI models; address the user's question, not the mechanics of the collaboration.")
	if directive, ok := styleDirectives[in.Style]; ok {
		sys.WriteString(" ")
		sys.WriteString(directive)
	}

	question := strings.TrimSpace(in.Question)
	if question == "" {
		question = defaultUserPrompt
	}

	var user strings.Builder
	if in.Context != "" {
		user.WriteString("Conversation so far:\n")
		user.WriteString(in.Context)
		user.WriteString("\n\n")
	}
	// The question is marked explicitly so models answer it instead of
	// discussing the collaboration.
	fmt.Fprintf(&user, "USER'S ORIGINAL QUESTION: %s\n", question)
	if len(in.Files) > 0 {
		user.WriteString("\nFiles attached by the user:\n")
		for _, f := range in.Files {
			fmt.Fprintf(&user, "- %s\n", f)
		}
	}
	for _, a := range in.Artifacts {
		user.WriteString("\n")
		if a.Label != "" {
			fmt.Fprintf(&user, "--- %s ---\n", a.Label)
		}
		user.WriteString(TruncateArtifact(a.Content))
		user.WriteString("\n")
	}
	if in.PhaseDirective != "" {
		user.WriteString("\n")
		user.WriteString(in.PhaseDirective)
	}

	return Pair{
		System: sys.String(),
		User:   truncateAt(user.String(), MaxUserPromptChars),
	}
}

// TruncateArtifact bounds a prior-phase artifact for embedding.
func TruncateArtifact(s string) string {
	return truncateAt(s, MaxArtifactChars)
}

// truncateAt shortens s to at most limit characters, cutting at the last
// whitespace before the limit and appending the sentinel. The sentinel
// counts against the limit.
func truncateAt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(TruncationSentinel)
	if cut < 0 {
		cut = 0
	}
	head := s[:cut]
	if idx := strings.LastIndexFunc(head, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t'
	}); idx > 0 {
		head = head[:idx]
	}
	return head + TruncationSentinel
}
