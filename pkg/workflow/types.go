// Package workflow implements the collaboration engine: ten multi-phase
// modes that direct several provider agents through drafting, critique,
// voting, validation, and synthesis, streaming progress to the event bus.
package workflow

import (
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Mode selects the collaboration shape.
type Mode string

const (
	ModeIndividual          Mode = "individual"
	ModeRoundTable          Mode = "round_table"
	ModeSequentialCritique  Mode = "sequential_critique_chain"
	ModeValidatedConsensus  Mode = "validated_consensus"
	ModeCreativeBrainstorm  Mode = "creative_brainstorm_swarm"
	ModeHybridBraintrust    Mode = "hybrid_guarded_braintrust"
	ModeCodeArchitect       Mode = "code_architect"
	ModeAdversarialDebate   Mode = "adversarial_debate"
	ModeExpertPanel         Mode = "expert_panel"
	ModeScenarioAnalysis    Mode = "scenario_analysis"
)

// AllModes lists every supported mode.
func AllModes() []Mode {
	return []Mode{
		ModeIndividual,
		ModeRoundTable,
		ModeSequentialCritique,
		ModeValidatedConsensus,
		ModeCreativeBrainstorm,
		ModeHybridBraintrust,
		ModeCodeArchitect,
		ModeAdversarialDebate,
		ModeExpertPanel,
		ModeScenarioAnalysis,
	}
}

// IsValid reports whether the mode is one of the known values.
func (m Mode) IsValid() bool {
	for _, known := range AllModes() {
		if m == known {
			return true
		}
	}
	return false
}

// Phase names used in events and artifacts.
const (
	PhaseInitialDrafting = "initial_drafting"
	PhaseCritique        = "critique"
	PhaseVoting          = "voting"
	PhaseSynthesis       = "synthesis"
	PhaseRefinement      = "refinement"
	PhaseMerge           = "merge"
	PhaseVerification    = "verification"
	PhaseRewrite         = "rewrite"
	PhaseIdeation        = "ideation"
	PhaseFusion          = "fusion"
	PhaseAmplification   = "amplification"
	PhaseRanking         = "ranking"
	PhaseValidation      = "validation"
	PhaseElaboration     = "elaboration"
	PhaseArchitecture    = "architecture"
	PhaseImplementation  = "implementation"
	PhaseReview          = "review"
	PhaseTesting         = "testing"
	PhaseArgument        = "argument"
	PhaseCounter         = "counter_argument"
	PhaseRebuttal        = "rebuttal"
	PhasePanel           = "panel_statements"
	PhaseModeration      = "moderation"
	PhaseTrends          = "trends_analysis"
	PhaseScenarios       = "scenario_building"
	PhaseStrategy        = "strategy"
	PhaseResponse        = "response"
)

// Options are the immutable per-collaboration inputs, captured at entry.
type Options struct {
	Prompt          string
	Mode            Mode
	RequestedAgents []providers.Provider

	// ModelOverrides maps provider to a non-default model id.
	ModelOverrides map[providers.Provider]string

	CostCapUSD          float64
	DeadlineSeconds     int
	IgnoreFailingModels bool
	SequentialStyle     prompt.Style

	UserID    string
	SessionID string

	// Context is the formatted conversation history to embed, possibly
	// empty.
	Context string

	// FilePaths are user-attached file references forwarded into prompts.
	FilePaths []string
}

// Artifact is one phase output from one agent.
type Artifact struct {
	Phase    string             `json:"phase"`
	Provider providers.Provider `json:"provider"`
	Content  string             `json:"content"`
	Failed   bool               `json:"failed,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// Result is the terminal outcome of one collaboration.
type Result struct {
	Final     string     `json:"final"`
	Rationale string     `json:"rationale,omitempty"`
	SpentUSD  float64    `json:"spent_usd"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}
