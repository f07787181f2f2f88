package budget

import "github.com/codeready-toolchain/quorum/pkg/providers"

// expectedOutputTokens is the assumed completion size per agent call for
// pre-flight estimates. Deliberately on the high side: the estimate exists
// to refuse work whose minimum plausible cost exceeds the cap, so it must
// not undercount.
const expectedOutputTokens = 1200

// callsPerAgent maps a collaboration mode to the number of provider calls
// each participating agent makes across all phases, plus extra shared calls
// (merge, synthesis, moderation) that happen once per collaboration.
var callsPerAgent = map[string]struct {
	perAgent int
	shared   int
}{
	"individual":                {perAgent: 1, shared: 0},
	"round_table":               {perAgent: 3, shared: 1}, // draft, critique, vote + synthesis
	"sequential_critique_chain": {perAgent: 1, shared: 1},
	"validated_consensus":       {perAgent: 2, shared: 2}, // draft/verify + merge, rewrite
	"creative_brainstorm_swarm": {perAgent: 3, shared: 1},
	"hybrid_guarded_braintrust": {perAgent: 2, shared: 2},
	"code_architect":            {perAgent: 1, shared: 0}, // one role call per agent
	"adversarial_debate":        {perAgent: 2, shared: 2},
	"expert_panel":              {perAgent: 1, shared: 1},
	"scenario_analysis":         {perAgent: 1, shared: 0},
}

// Estimate computes a heuristic pre-flight USD cost for running mode with
// the given agents and prompt length (characters). The workflow engine
// refuses work whose estimate exceeds the session cap.
func Estimate(agents []providers.Provider, promptLength int, mode string) float64 {
	if len(agents) == 0 {
		return 0
	}

	shape, ok := callsPerAgent[mode]
	if !ok {
		shape = callsPerAgent["round_table"] // most expensive common shape
	}

	promptTokens := (promptLength + 3) / 4

	var total float64
	for _, p := range agents {
		price := providers.PriceFor(p)
		calls := shape.perAgent
		// Later phases embed prior artifacts, so input grows; double the
		// prompt tokens as a coarse allowance.
		total += float64(calls) * price.Cost(promptTokens*2, expectedOutputTokens)
	}

	if shape.shared > 0 {
		// Shared calls run on the most expensive participating agent to
		// keep the estimate conservative.
		worst := agents[0]
		worstRate := providers.PriceFor(worst)
		for _, p := range agents[1:] {
			pr := providers.PriceFor(p)
			if pr.InputPer1K+pr.OutputPer1K > worstRate.InputPer1K+worstRate.OutputPer1K {
				worst, worstRate = p, pr
			}
		}
		total += float64(shape.shared) * worstRate.Cost(promptTokens*3, expectedOutputTokens)
	}

	return total
}
