package workflow

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// input builds the common prompt input for one call.
func (r *run) input(p providers.Provider, phase, directive string, artifacts []prompt.Artifact) prompt.Input {
	return prompt.Input{
		Provider:       p,
		Phase:          phase,
		PhaseDirective: directive,
		Question:       r.opts.Prompt,
		Style:          r.opts.SequentialStyle,
		Context:        r.opts.Context,
		Files:          r.opts.FilePaths,
		Artifacts:      artifacts,
	}
}

// phaseArtifacts returns the successful artifacts of a phase as embeddable
// prompt artifacts, excluding the given provider's own.
func (r *run) phaseArtifacts(phase string, exclude providers.Provider) []prompt.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []prompt.Artifact
	for _, a := range r.artifacts {
		if a.Phase != phase || a.Failed || a.Provider == exclude {
			continue
		}
		out = append(out, prompt.Artifact{
			Label:   fmt.Sprintf("%s from %s", phaseLabel(phase), a.Provider.DisplayName()),
			Content: a.Content,
		})
	}
	return out
}

// phaseContent returns one agent's successful artifact for a phase.
func (r *run) phaseContent(phase string, p providers.Provider) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.artifacts {
		if a.Phase == phase && a.Provider == p && !a.Failed {
			return a.Content, true
		}
	}
	return "", false
}

func phaseLabel(phase string) string {
	return strings.ReplaceAll(phase, "_", " ")
}

// sequentialPhase runs one call per agent in order, stopping on global
// abort. Per-agent failures follow the ignoreFailingModels policy.
func (r *run) sequentialPhase(phase, what, directive string, embedOthers string) *Result {
	r.phaseStart(phase)
	for _, p := range r.live() {
		var artifacts []prompt.Artifact
		if embedOthers != "" {
			artifacts = r.phaseArtifacts(embedOthers, p)
		}
		_, err := r.callAgent(p, phase, what, r.input(p, phase, directive, artifacts))
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
	}
	return nil
}

// parallelPhase fans one call per agent out concurrently. Token events
// from different agents interleave; artifact order follows completion.
func (r *run) parallelPhase(phase, what, directive string) *Result {
	r.phaseStart(phase)
	agents := r.live()

	var g errgroup.Group
	errs := make([]error, len(agents))
	for i, p := range agents {
		g.Go(func() error {
			_, errs[i] = r.callAgent(p, phase, what, r.input(p, phase, directive, nil))
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range agents {
		if res := r.handleAgentErr(p, errs[i]); res != nil {
			return res
		}
	}
	return nil
}

// noSurvivors is the terminal result when every agent failed.
func (r *run) noSurvivors() *Result {
	return &Result{Final: "Collaboration failed: all agents failed to respond."}
}

// --- individual ---

func (r *run) runIndividual() *Result {
	if res := r.parallelPhase(PhaseResponse, "a response",
		"Answer the user's question directly and completely."); res != nil {
		return res
	}
	live := r.live()
	if len(live) == 0 {
		return r.noSurvivors()
	}

	var b strings.Builder
	for _, p := range r.agents {
		content, ok := r.phaseContent(PhaseResponse, p)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", p.DisplayName(), content)
	}
	return &Result{Final: strings.TrimSpace(b.String())}
}

// --- round_table ---

func (r *run) runRoundTable() *Result {
	if res := r.sequentialPhase(PhaseInitialDrafting, "a draft",
		"Write your own independent draft answer to the question. Do not reference other agents.", ""); res != nil {
		return res
	}
	if len(r.live()) == 0 {
		return r.noSurvivors()
	}

	if res := r.sequentialPhase(PhaseCritique, "a critique",
		"Critique each of the other agents' drafts: note strengths, weaknesses, and factual problems.",
		PhaseInitialDrafting); res != nil {
		return res
	}

	winner, res := r.votePhase(PhaseInitialDrafting)
	if res != nil {
		return res
	}

	return r.synthesisPhase(winner)
}

// votePhase has each live agent vote for the best draft that is not its
// own. Returns the winning agent; ties break by provider enumeration
// order.
func (r *run) votePhase(draftPhase string) (providers.Provider, *Result) {
	r.phaseStart(PhaseVoting)
	live := r.live()
	votes := make(map[providers.Provider]providers.Provider)

	for _, p := range live {
		directive := fmt.Sprintf(
			"Vote for the single best contribution, excluding your own. The candidates are: %s. State your vote in the form 'I vote for <agent>' and justify it briefly.",
			strings.Join(providerNames(live), ", "))
		text, err := r.callAgent(p, PhaseVoting, "a vote",
			r.input(p, PhaseVoting, directive, r.phaseArtifacts(draftPhase, p)))
		if res := r.handleAgentErr(p, err); res != nil {
			return "", res
		}
		if err != nil {
			continue
		}
		votedFor, ok := ExtractVote(text, p, live)
		if !ok {
			continue
		}
		votes[p] = votedFor
		r.engine.publish(r.opts.SessionID, bus.Event{
			Type: bus.EventAgentVote, Provider: p, Phase: PhaseVoting,
			Payload: map[string]any{"voted_for": string(votedFor)},
		})
	}

	winner, ok := TallyVotes(votes)
	if !ok {
		// No extractable votes: earliest live agent by enumeration order.
		for _, p := range providers.All() {
			for _, l := range r.live() {
				if p == l {
					return p, nil
				}
			}
		}
		return "", r.noSurvivors()
	}
	return winner, nil
}

// synthesisPhase has the largest-context live agent produce the final
// answer, split into FINAL ANSWER and RATIONALE sections.
func (r *run) synthesisPhase(winner providers.Provider) *Result {
	syn, ok := r.synthesiser()
	if !ok {
		return r.noSurvivors()
	}

	r.phaseStart(PhaseSynthesis)
	artifacts := r.phaseArtifacts(PhaseInitialDrafting, "")
	artifacts = append(artifacts, r.phaseArtifacts(PhaseCritique, "")...)
	directive := fmt.Sprintf(
		"Synthesise the final answer from the drafts and critiques above. The voted-best draft came from %s; weigh it accordingly. Structure your response exactly as two sections labelled 'FINAL ANSWER:' and 'RATIONALE:'.",
		winner.DisplayName())

	text, err := r.callAgent(syn, PhaseSynthesis, "a synthesis",
		r.input(syn, PhaseSynthesis, directive, artifacts))
	if res := r.handleAgentErr(syn, err); res != nil {
		return res
	}
	if err != nil {
		// Synthesiser failed with ignoreFailingModels: fall back to the
		// winning draft.
		if content, ok := r.phaseContent(PhaseInitialDrafting, winner); ok {
			return &Result{Final: content}
		}
		return r.noSurvivors()
	}

	final, rationale := splitFinal(text)
	return &Result{Final: final, Rationale: rationale}
}

// splitFinal separates the FINAL ANSWER and RATIONALE sections; without
// markers the whole text is the final answer.
func splitFinal(text string) (final, rationale string) {
	upper := strings.ToUpper(text)
	fi := strings.Index(upper, "FINAL ANSWER")
	ri := strings.Index(upper, "RATIONALE")
	if fi < 0 {
		return strings.TrimSpace(text), ""
	}
	body := text[fi+len("FINAL ANSWER"):]
	if ri > fi {
		final = text[fi+len("FINAL ANSWER") : ri]
		rationale = text[ri+len("RATIONALE"):]
	} else {
		final = body
	}
	trim := func(s string) string {
		return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), ":"))
	}
	return trim(final), trim(rationale)
}

// --- sequential_critique_chain ---

// refinementStyles rotate across the chain after the initial answer.
var refinementStyles = []string{"balanced", "constructive", "challenging"}

func (r *run) runSequentialCritique() *Result {
	live := r.live()
	totalSteps := len(live) + 1

	r.phaseStart(PhaseInitialDrafting)
	first := live[0]
	current, err := r.callAgent(first, PhaseInitialDrafting, "an initial answer",
		r.input(first, PhaseInitialDrafting,
			"Write a complete initial answer to the question.", nil))
	if res := r.handleAgentErr(first, err); res != nil {
		return res
	}
	step := 1
	r.progress(PhaseInitialDrafting, step, totalSteps)

	r.phaseStart(PhaseRefinement)
	for i, p := range live[1:] {
		style := refinementStyles[i%len(refinementStyles)]
		directive := fmt.Sprintf(
			"Refine the previous answer in a %s manner: keep what is strong, improve what is weak, and correct mistakes. Produce a full replacement answer, not a commentary.",
			style)
		text, err := r.callAgent(p, PhaseRefinement, "a refinement",
			r.input(p, PhaseRefinement, directive, []prompt.Artifact{
				{Label: "Previous answer", Content: current},
			}))
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
		if err == nil {
			current = text
		}
		step++
		r.progress(PhaseRefinement, step, totalSteps)
	}

	if current == "" {
		return r.noSurvivors()
	}

	syn, ok := r.synthesiser()
	if !ok {
		return &Result{Final: current}
	}
	r.phaseStart(PhaseSynthesis)
	text, err := r.callAgent(syn, PhaseSynthesis, "a synthesis",
		r.input(syn, PhaseSynthesis,
			"Polish the refined answer into its final form. Structure your response exactly as two sections labelled 'FINAL ANSWER:' and 'RATIONALE:'.",
			[]prompt.Artifact{{Label: "Refined answer", Content: current}}))
	if res := r.handleAgentErr(syn, err); res != nil {
		return res
	}
	r.progress(PhaseSynthesis, totalSteps, totalSteps)
	if err != nil {
		return &Result{Final: current}
	}
	final, rationale := splitFinal(text)
	return &Result{Final: final, Rationale: rationale}
}

// --- validated_consensus ---

// issueKeywords flag factual problems in verifier output.
var issueKeywords = []string{
	"incorrect", "false", "misleading", "unsupported",
	"citation needed", "inaccurate", "error",
}

func countIssues(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, kw := range issueKeywords {
		n += strings.Count(lower, kw)
	}
	return n
}

func (r *run) runValidatedConsensus() *Result {
	if len(r.agents) < 3 {
		return &Result{Final: "Collaboration failed: validated consensus requires at least 3 agents."}
	}

	// Co-drafting by the first two agents.
	r.phaseStart(PhaseInitialDrafting)
	for _, p := range r.agents[:2] {
		_, err := r.callAgent(p, PhaseInitialDrafting, "a draft",
			r.input(p, PhaseInitialDrafting,
				"Write your own independent draft answer to the question.", nil))
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
	}

	drafts := r.phaseArtifacts(PhaseInitialDrafting, "")
	if len(drafts) == 0 {
		return r.noSurvivors()
	}

	merger, ok := r.synthesiser()
	if !ok {
		return r.noSurvivors()
	}

	// A single valid draft passes through unchanged.
	var merged string
	if len(drafts) == 1 {
		merged = drafts[0].Content
	} else {
		r.phaseStart(PhaseMerge)
		text, err := r.callAgent(merger, PhaseMerge, "a merged draft",
			r.input(merger, PhaseMerge,
				"Combine the drafts above into one coherent answer, reconciling disagreements explicitly.",
				drafts))
		if res := r.handleAgentErr(merger, err); res != nil {
			return res
		}
		if err != nil {
			merged = drafts[0].Content
		} else {
			merged = text
		}
	}

	// Verification sweep by agents outside the merge.
	var verifiers []providers.Provider
	for _, p := range r.live() {
		if p != merger {
			verifiers = append(verifiers, p)
		}
	}
	if len(verifiers) == 0 {
		verifiers = r.live()
	}

	r.phaseStart(PhaseVerification)
	totalIssues, verified := 0, 0
	var feedback []prompt.Artifact
	for _, p := range verifiers {
		text, err := r.callAgent(p, PhaseVerification, "a verification",
			r.input(p, PhaseVerification,
				"Fact-check the merged answer. Flag anything incorrect, misleading, unsupported, or in need of a citation.",
				[]prompt.Artifact{{Label: "Merged answer", Content: merged}}))
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
		if err != nil {
			continue
		}
		totalIssues += countIssues(text)
		verified++
		feedback = append(feedback, prompt.Artifact{
			Label:   fmt.Sprintf("Verification from %s", p.DisplayName()),
			Content: text,
		})
	}

	// Rewrite only when verifiers flagged 3+ issues on average.
	if verified > 0 && float64(totalIssues)/float64(verified) >= 3 {
		r.phaseStart(PhaseRewrite)
		artifacts := append([]prompt.Artifact{{Label: "Merged answer", Content: merged}}, feedback...)
		text, err := r.callAgent(merger, PhaseRewrite, "a rewrite",
			r.input(merger, PhaseRewrite,
				"Rewrite the merged answer to resolve every issue the verifiers raised.",
				artifacts))
		if res := r.handleAgentErr(merger, err); res != nil {
			return res
		}
		if err == nil {
			merged = text
		}
	}

	return &Result{Final: merged}
}

// --- creative_brainstorm_swarm ---

func (r *run) runCreativeBrainstorm() *Result {
	if res := r.parallelPhase(PhaseIdeation, "ideas",
		"Generate 3 to 5 distinct, creative ideas addressing the question. Number them."); res != nil {
		return res
	}
	if len(r.live()) == 0 {
		return r.noSurvivors()
	}

	if res := r.sequentialPhase(PhaseFusion, "a mega-idea",
		"From the idea pool above, merge at least two ideas (not necessarily your own) into one stronger 'mega-idea'. Describe it fully.",
		PhaseIdeation); res != nil {
		return res
	}

	winner, res := r.votePhase(PhaseFusion)
	if res != nil {
		return res
	}

	winning, ok := r.phaseContent(PhaseFusion, winner)
	if !ok {
		return r.noSurvivors()
	}

	syn, ok := r.synthesiser()
	if !ok {
		return &Result{Final: winning}
	}
	r.phaseStart(PhaseAmplification)
	text, err := r.callAgent(syn, PhaseAmplification, "an amplification",
		r.input(syn, PhaseAmplification,
			"Amplify the winning mega-idea: develop it into a complete, actionable answer to the question.",
			[]prompt.Artifact{{Label: "Winning mega-idea", Content: winning}}))
	if resErr := r.handleAgentErr(syn, err); resErr != nil {
		return resErr
	}
	if err != nil {
		return &Result{Final: winning}
	}
	return &Result{Final: text}
}

// --- hybrid_guarded_braintrust ---

func (r *run) runHybridBraintrust() *Result {
	if res := r.sequentialPhase(PhaseIdeation, "ideas",
		"Generate your strongest ideas addressing the question. Number them.", ""); res != nil {
		return res
	}
	live := r.live()
	if len(live) == 0 {
		return r.noSurvivors()
	}

	ranker := live[0]
	r.phaseStart(PhaseRanking)
	ranking, err := r.callAgent(ranker, PhaseRanking, "a ranking",
		r.input(ranker, PhaseRanking,
			"Rank the ideas above from most to least promising and explain the top pick.",
			r.phaseArtifacts(PhaseIdeation, "")))
	if res := r.handleAgentErr(ranker, err); res != nil {
		return res
	}
	if err != nil {
		return r.noSurvivors()
	}

	// Validation sweep by up to two other agents.
	var validators []providers.Provider
	for _, p := range r.live() {
		if p != ranker && len(validators) < 2 {
			validators = append(validators, p)
		}
	}
	validations := []prompt.Artifact{{Label: "Ranking", Content: ranking}}
	if len(validators) > 0 {
		r.phaseStart(PhaseValidation)
		for _, p := range validators {
			text, err := r.callAgent(p, PhaseValidation, "a validation",
				r.input(p, PhaseValidation,
					"Validate the top-ranked idea: check factual accuracy, feasibility, risks, and supporting evidence.",
					[]prompt.Artifact{{Label: "Ranking", Content: ranking}}))
			if res := r.handleAgentErr(p, err); res != nil {
				return res
			}
			if err != nil {
				continue
			}
			validations = append(validations, prompt.Artifact{
				Label:   fmt.Sprintf("Validation from %s", p.DisplayName()),
				Content: text,
			})
		}
	}

	syn, ok := r.synthesiser()
	if !ok {
		return r.noSurvivors()
	}
	r.phaseStart(PhaseElaboration)
	text, err := r.callAgent(syn, PhaseElaboration, "an elaboration",
		r.input(syn, PhaseElaboration,
			"Elaborate the validated top idea into the final answer, incorporating the validators' caveats.",
			validations))
	if res := r.handleAgentErr(syn, err); res != nil {
		return res
	}
	if err != nil {
		return &Result{Final: ranking}
	}
	return &Result{Final: text}
}

// --- code_architect ---

type architectRole struct {
	name      string
	phase     string
	what      string
	directive string
	heading   string
}

var architectRoles = []architectRole{
	{"architect", PhaseArchitecture, "an architecture",
		"Design the software architecture for the request: components, interfaces, data flow, and key decisions.",
		"Architecture"},
	{"developer", PhaseImplementation, "an implementation",
		"Implement the design above: concrete code or detailed implementation guidance following the architecture.",
		"Implementation"},
	{"reviewer", PhaseReview, "a review",
		"Review the implementation above for correctness, clarity, and adherence to the architecture.",
		"Review"},
	{"tester", PhaseTesting, "a test plan",
		"Write the test plan and key test cases for the implementation, covering the reviewer's concerns.",
		"Tests"},
}

func (r *run) runCodeArchitect() *Result {
	live := r.live()
	var sections []string
	var prior []prompt.Artifact

	for i, role := range architectRoles {
		p := live[i%len(live)]
		r.phaseStart(role.phase)

		in := r.input(p, role.phase, role.directive, prior)
		in.Role = role.name
		text, err := r.callAgent(p, role.phase, role.what, in)
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
		if err != nil {
			text = placeholder(p, role.what, "agent failed")
		}

		sections = append(sections, fmt.Sprintf("# %s\n%s", role.heading, text))
		// Downstream phases see a bounded excerpt; the final assembly
		// keeps the full text.
		prior = append(prior, prompt.Artifact{Label: role.heading, Content: text})

		if len(r.live()) == 0 {
			return r.noSurvivors()
		}
		live = r.live()
	}

	return &Result{Final: strings.Join(sections, "\n\n")}
}

// --- adversarial_debate ---

func (r *run) runAdversarialDebate() *Result {
	live := r.live()
	if len(live) < 2 {
		return &Result{Final: "Collaboration failed: adversarial debate requires at least 2 agents."}
	}
	proponent, opponent := live[0], live[1]

	r.phaseStart(PhaseArgument)
	argument, err := r.callAgent(proponent, PhaseArgument, "an argument",
		r.input(proponent, PhaseArgument,
			"Argue the strongest possible case for your answer to the question.", nil))
	if res := r.handleAgentErr(proponent, err); res != nil {
		return res
	}
	if err != nil {
		return r.noSurvivors()
	}

	r.phaseStart(PhaseCounter)
	counter, err := r.callAgent(opponent, PhaseCounter, "a counter-argument",
		r.input(opponent, PhaseCounter,
			"Attack the argument above: expose weaknesses, counterexamples, and alternatives.",
			[]prompt.Artifact{{Label: "Argument", Content: argument}}))
	if res := r.handleAgentErr(opponent, err); res != nil {
		return res
	}

	rebuttal := ""
	if err == nil {
		r.phaseStart(PhaseRebuttal)
		rebuttal, err = r.callAgent(proponent, PhaseRebuttal, "a rebuttal",
			r.input(proponent, PhaseRebuttal,
				"Rebut the counter-argument, conceding valid points and defending the rest.",
				[]prompt.Artifact{
					{Label: "Argument", Content: argument},
					{Label: "Counter-argument", Content: counter},
				}))
		if res := r.handleAgentErr(proponent, err); res != nil {
			return res
		}
	}

	// Synthesis by a third agent, or the proponent when only two remain.
	syn := proponent
	for _, p := range r.live() {
		if p != proponent && p != opponent {
			syn = p
			break
		}
	}

	r.phaseStart(PhaseSynthesis)
	artifacts := []prompt.Artifact{{Label: "Argument", Content: argument}}
	if counter != "" {
		artifacts = append(artifacts, prompt.Artifact{Label: "Counter-argument", Content: counter})
	}
	if rebuttal != "" {
		artifacts = append(artifacts, prompt.Artifact{Label: "Rebuttal", Content: rebuttal})
	}
	text, err := r.callAgent(syn, PhaseSynthesis, "a synthesis",
		r.input(syn, PhaseSynthesis,
			"Weigh the debate above and deliver a balanced verdict. Structure your response exactly as two sections labelled 'FINAL ANSWER:' and 'RATIONALE:'.",
			artifacts))
	if res := r.handleAgentErr(syn, err); res != nil {
		return res
	}
	if err != nil {
		return &Result{Final: argument}
	}
	final, rationale := splitFinal(text)
	return &Result{Final: final, Rationale: rationale}
}

// --- expert_panel ---

var panelRoles = []string{
	"Technical Expert",
	"Business Strategist",
	"UX Specialist",
	"Risk & Compliance Analyst",
}

func (r *run) runExpertPanel() *Result {
	live := r.live()
	roles := panelRoles
	if len(live) < len(roles) {
		roles = roles[:len(live)]
	}

	r.phaseStart(PhasePanel)
	for i, role := range roles {
		p := live[i]
		in := r.input(p, PhasePanel,
			fmt.Sprintf("Speaking strictly as the %s, give your assessment of the question.", role), nil)
		in.Role = role
		_, err := r.callAgent(p, PhasePanel, "a panel statement", in)
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
	}
	if len(r.live()) == 0 {
		return r.noSurvivors()
	}

	moderator, ok := r.synthesiser()
	if !ok {
		return r.noSurvivors()
	}
	r.phaseStart(PhaseModeration)
	in := r.input(moderator, PhaseModeration,
		"As the panel moderator, simulate a short dialogue between the experts above where they respond to each other, then issue an integrated recommendation.",
		r.phaseArtifacts(PhasePanel, ""))
	in.Role = "panel moderator"
	text, err := r.callAgent(moderator, PhaseModeration, "a moderation", in)
	if res := r.handleAgentErr(moderator, err); res != nil {
		return res
	}
	if err != nil {
		return r.noSurvivors()
	}
	return &Result{Final: text}
}

// --- scenario_analysis ---

func (r *run) runScenarioAnalysis() *Result {
	live := r.live()

	steps := []struct {
		role      string
		phase     string
		what      string
		directive string
	}{
		{"trends analyst", PhaseTrends, "a trends analysis",
			"Identify the key trends and driving forces relevant to the question."},
		{"scenario builder", PhaseScenarios, "scenarios",
			"Build 2 to 4 distinct future scenarios from the trends above."},
		{"strategist", PhaseStrategy, "a strategy",
			"Recommend a strategy that is robust across the scenarios above, answering the user's question."},
	}

	var prior []prompt.Artifact
	var lastText string
	for i, s := range steps {
		p := live[i%len(live)]
		r.phaseStart(s.phase)
		in := r.input(p, s.phase, s.directive, prior)
		in.Role = s.role
		text, err := r.callAgent(p, s.phase, s.what, in)
		if res := r.handleAgentErr(p, err); res != nil {
			return res
		}
		if err != nil {
			text = placeholder(p, s.what, "agent failed")
		} else {
			lastText = text
		}
		prior = append(prior, prompt.Artifact{Label: phaseLabel(s.phase), Content: text})
		if len(r.live()) == 0 {
			return r.noSurvivors()
		}
		live = r.live()
	}

	if lastText == "" {
		return r.noSurvivors()
	}
	return &Result{Final: lastText}
}
