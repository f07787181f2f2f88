package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/dispatch"
	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/providers"
	"github.com/codeready-toolchain/quorum/pkg/retry"
)

// ClientSource produces streaming clients; satisfied by
// llmclient.Registry.
type ClientSource interface {
	GetClient(ctx context.Context, userID string, p providers.Provider) (llmclient.AgentClient, error)
}

const (
	abortedCost     = "Collaboration aborted: cost limit exceeded."
	abortedDeadline = "Collaboration aborted: time limit reached."

	defaultTemperature = 0.7
)

// Engine runs collaborations. One Engine serves all sessions; per-run
// state lives in the run struct.
type Engine struct {
	clients ClientSource
	bus     *bus.Bus
	limiter *dispatch.Limiter
	policy  retry.Policy
}

// NewEngine wires the engine to its collaborators.
func NewEngine(clients ClientSource, b *bus.Bus, limiter *dispatch.Limiter, policy retry.Policy) *Engine {
	return &Engine{
		clients: clients,
		bus:     b,
		limiter: limiter,
		policy:  policy,
	}
}

// run carries one collaboration's state through the phases.
type run struct {
	engine  *Engine
	opts    Options
	agents  []providers.Provider
	scope   *dispatch.Scope
	tracker *budget.Tracker

	// mu guards artifacts, warnings, and failed during parallel fan-out.
	mu        sync.Mutex
	artifacts []Artifact
	warnings  []string

	// failed marks agents that could not complete a call; they are
	// excluded from later phases.
	failed map[providers.Provider]bool
}

// Run executes one collaboration end to end. It always returns a Result;
// aborts surface as structured finals, never as panics or lost sessions.
// collaboration_result precedes collaboration_complete, and
// collaboration_complete is always emitted.
func (e *Engine) Run(ctx context.Context, opts Options) *Result {
	start := time.Now()
	defer func() {
		e.publish(opts.SessionID, bus.Event{
			Type:    bus.EventCollaborationComplete,
			Payload: map[string]any{"elapsed_ms": time.Since(start).Milliseconds()},
		})
	}()

	result := e.execute(ctx, opts)

	e.publish(opts.SessionID, bus.Event{
		Type: bus.EventCollaborationResult,
		Payload: map[string]any{
			"final":     result.Final,
			"rationale": result.Rationale,
			"spent_usd": result.SpentUSD,
		},
	})
	return result
}

func (e *Engine) execute(ctx context.Context, opts Options) *Result {
	if !opts.Mode.IsValid() {
		return &Result{Final: fmt.Sprintf("Collaboration failed: unknown mode %q.", opts.Mode)}
	}

	agents := e.availableAgents(ctx, opts)
	if len(agents) == 0 {
		return &Result{Final: "Collaboration failed: no AI models available."}
	}

	estimate := budget.Estimate(agents, len(opts.Prompt)+len(opts.Context), string(opts.Mode))
	if opts.CostCapUSD > 0 && estimate > opts.CostCapUSD {
		return &Result{Final: fmt.Sprintf(
			"Collaboration refused: estimated cost $%.4f exceeds the $%.2f limit.",
			estimate, opts.CostCapUSD)}
	}

	scope := dispatch.NewScope(ctx, opts.DeadlineSeconds)
	defer scope.Cancel()

	capUSD := opts.CostCapUSD
	if capUSD <= 0 {
		capUSD = 1e9 // effectively uncapped
	}
	r := &run{
		engine:  e,
		opts:    opts,
		agents:  agents,
		scope:   scope,
		tracker: budget.NewTracker(opts.SessionID, capUSD),
		failed:  make(map[providers.Provider]bool),
	}

	result := r.runMode()
	result.SpentUSD = r.tracker.TotalUSD()
	result.Artifacts = r.artifacts
	result.Warnings = r.warnings
	return result
}

func (r *run) runMode() *Result {
	switch r.opts.Mode {
	case ModeIndividual:
		return r.runIndividual()
	case ModeRoundTable:
		return r.runRoundTable()
	case ModeSequentialCritique:
		return r.runSequentialCritique()
	case ModeValidatedConsensus:
		return r.runValidatedConsensus()
	case ModeCreativeBrainstorm:
		return r.runCreativeBrainstorm()
	case ModeHybridBraintrust:
		return r.runHybridBraintrust()
	case ModeCodeArchitect:
		return r.runCodeArchitect()
	case ModeAdversarialDebate:
		return r.runAdversarialDebate()
	case ModeExpertPanel:
		return r.runExpertPanel()
	case ModeScenarioAnalysis:
		return r.runScenarioAnalysis()
	}
	return &Result{Final: fmt.Sprintf("Collaboration failed: unknown mode %q.", r.opts.Mode)}
}

// availableAgents filters the requested agents down to those with a usable
// client, preserving request order.
func (e *Engine) availableAgents(ctx context.Context, opts Options) []providers.Provider {
	var available []providers.Provider
	for _, p := range opts.RequestedAgents {
		if !p.IsValid() {
			continue
		}
		if _, err := e.clients.GetClient(ctx, opts.UserID, p); err != nil {
			slog.Debug("Agent excluded from collaboration",
				"provider", p, "user_id", opts.UserID, "error", err)
			continue
		}
		available = append(available, p)
	}
	return available
}

func (e *Engine) publish(sessionID string, evt bus.Event) {
	e.bus.Publish(sessionID, evt)
}

// phaseStart announces a phase to the session channel. A single-agent
// individual response has no phase structure, so nothing is announced.
func (r *run) phaseStart(phase string) {
	if r.opts.Mode == ModeIndividual {
		return
	}
	r.engine.publish(r.opts.SessionID, bus.Event{
		Type:    bus.EventPhaseStart,
		Phase:   phase,
		Payload: map[string]any{"agents": providerNames(r.live())},
	})
}

// live returns the agents that have not failed, preserving order.
func (r *run) live() []providers.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []providers.Provider
	for _, p := range r.agents {
		if !r.failed[p] {
			out = append(out, p)
		}
	}
	return out
}

// aborted reports whether cost or deadline requires stopping, and which.
func (r *run) aborted() error {
	if r.tracker.ShouldAbort() {
		return budget.ErrCostLimitExceeded
	}
	if r.scope.Expired() {
		return dispatch.AsDeadlineError(r.scope.Context().Err())
	}
	return nil
}

// callAgent runs one provider call with retries, streaming token events to
// the bus and metering cost. On success it appends an artifact and returns
// its content. On failure it records the agent as failed, appends a
// placeholder artifact, and returns an error.
func (r *run) callAgent(p providers.Provider, phase, what string, in prompt.Input) (string, error) {
	if err := r.aborted(); err != nil {
		return "", err
	}

	pair := prompt.Assemble(in)
	sessionID := r.opts.SessionID

	r.engine.publish(sessionID, bus.Event{
		Type: bus.EventAgentThinking, Provider: p, Phase: phase,
	})

	onRetry := func(p providers.Provider, attempt int, err error, delay time.Duration) {
		r.engine.publish(sessionID, bus.Event{
			Type: bus.EventAgentRetry, Provider: p, Phase: phase,
			Payload: map[string]any{
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
				"error":    err.Error(),
			},
		})
	}

	var text string
	err := retry.Do(r.scope.Context(), r.engine.policy, p, phase, onRetry, func(attempt int) error {
		out, callErr := r.streamOnce(p, phase, pair)
		if callErr != nil {
			return callErr
		}
		text = out
		return nil
	})

	if err != nil {
		if abortErr := r.fatalAbort(err); abortErr != nil {
			return "", abortErr
		}
		reason := compactError(err)
		r.mu.Lock()
		r.failed[p] = true
		r.artifacts = append(r.artifacts, Artifact{
			Phase: phase, Provider: p, Failed: true, Reason: reason,
			Content: placeholder(p, what, reason),
		})
		r.mu.Unlock()
		slog.Warn("Agent call failed",
			"provider", p, "phase", phase, "session_id", sessionID, "error", err)
		return "", err
	}

	r.mu.Lock()
	r.artifacts = append(r.artifacts, Artifact{Phase: phase, Provider: p, Content: text})
	r.mu.Unlock()
	r.engine.publish(sessionID, bus.Event{
		Type: bus.EventAgentResponseComplete, Provider: p, Phase: phase,
		Payload: map[string]any{"content": text},
	})
	return text, r.aborted()
}

// streamOnce issues a single streaming call under a fresh child deadline
// and a provider concurrency slot.
func (r *run) streamOnce(p providers.Provider, phase string, pair prompt.Pair) (string, error) {
	callCtx, cancel := r.scope.Child(p)
	defer cancel()

	release, err := r.engine.limiter.Acquire(callCtx, p)
	if err != nil {
		return "", err
	}
	defer release()

	client, err := r.engine.clients.GetClient(callCtx, r.opts.UserID, p)
	if err != nil {
		return "", err
	}

	req := llmclient.StreamRequest{
		ModelID:      r.opts.ModelOverrides[p],
		SystemPrompt: pair.System,
		UserPrompt:   pair.User,
		Temperature:  defaultTemperature,
	}

	chunks, err := client.Stream(callCtx, req)
	if err != nil {
		return "", err
	}

	// Meter the prompt up front and each chunk as it lands, so a stream cut
	// short by an abort has still charged everything it consumed. The
	// terminal summary tops the totals up to reported usage; estimates never
	// come back out, keeping the tracker monotone.
	estIn := llmclient.EstimateTokens(pair.System) + llmclient.EstimateTokens(pair.User)
	r.tracker.AddInputTokens(p, estIn)

	var estOut int
	var b strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llmclient.TextChunk:
			b.WriteString(c.Text)
			n := llmclient.EstimateTokens(c.Text)
			estOut += n
			r.tracker.AddOutputTokens(p, n)
			r.engine.publish(r.opts.SessionID, bus.Event{
				Type: bus.EventAgentThought, Provider: p, Phase: phase,
				Payload: map[string]any{"text": c.Text},
			})
			if r.tracker.ShouldAbort() {
				cancel()
				drain(chunks)
				return "", budget.ErrCostLimitExceeded
			}
		case *llmclient.SummaryChunk:
			r.tracker.AddInputTokens(p, c.InputTokens-estIn)
			r.tracker.AddOutputTokens(p, c.OutputTokens-estOut)
		case *llmclient.ErrorChunk:
			drain(chunks)
			return "", &retry.AgentError{
				Provider: p, Phase: phase, Retryable: c.Retryable,
				Err: errors.New(c.Message),
			}
		}
	}
	if err := callCtx.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// fatalAbort maps cost and session-deadline failures to the error that
// terminates the whole collaboration, or nil for per-agent failures.
func (r *run) fatalAbort(err error) error {
	if errors.Is(err, budget.ErrCostLimitExceeded) {
		return budget.ErrCostLimitExceeded
	}
	if errors.Is(err, dispatch.ErrDeadlineExceeded) || r.scope.Expired() {
		return dispatch.ErrDeadlineExceeded
	}
	return nil
}

// isGlobalAbort reports whether the error terminates the collaboration as
// a whole rather than one agent.
func isGlobalAbort(err error) bool {
	return errors.Is(err, budget.ErrCostLimitExceeded) ||
		errors.Is(err, dispatch.ErrDeadlineExceeded)
}

// handleAgentErr converts a callAgent error into a terminal Result, or nil
// when the workflow should continue. Per-agent failures continue only when
// ignoreFailingModels is set; the placeholder artifact is already recorded.
func (r *run) handleAgentErr(p providers.Provider, err error) *Result {
	if err == nil {
		return nil
	}
	if isGlobalAbort(err) {
		return r.abortResult(err)
	}
	if !r.opts.IgnoreFailingModels {
		r.scope.Cancel()
		return &Result{Final: fmt.Sprintf(
			"Collaboration failed: %s encountered an error: %s",
			p.DisplayName(), compactError(err))}
	}
	return nil
}

// abortResult converts a global abort into the structured partial result.
// The final text is the fixed abort sentence; any successful artifacts
// gathered so far ride along on the Result, flagged by a warning.
func (r *run) abortResult(abortErr error) *Result {
	final := abortedDeadline
	if errors.Is(abortErr, budget.ErrCostLimitExceeded) {
		final = abortedCost
	}

	r.mu.Lock()
	survived := 0
	for _, a := range r.artifacts {
		if !a.Failed {
			survived++
		}
	}
	r.mu.Unlock()
	if survived > 0 {
		r.warnings = append(r.warnings,
			fmt.Sprintf("collaboration aborted early; %d partial artifact(s) are attached", survived))
	}
	return &Result{Final: final}
}

// synthesiser picks the live agent with the largest context window.
func (r *run) synthesiser() (providers.Provider, bool) {
	return providers.LargestContext(r.live(), func(p providers.Provider) string {
		if m := r.opts.ModelOverrides[p]; m != "" {
			return m
		}
		return p.DefaultModel()
	})
}

// progress publishes a progress_update event.
func (r *run) progress(phase string, step, total int) {
	p := bus.ProgressPayload{
		Phase:       phase,
		CurrentStep: step,
		TotalSteps:  total,
		Percentage:  100 * float64(step) / float64(total),
	}
	r.engine.publish(r.opts.SessionID, bus.Event{
		Type: bus.EventProgressUpdate, Phase: phase, Payload: p.ProgressMap(),
	})
}

func placeholder(p providers.Provider, what, reason string) string {
	return fmt.Sprintf("[%s was unable to provide %s: %s]", p.DisplayName(), what, reason)
}

func compactError(err error) string {
	var agentErr *retry.AgentError
	if errors.As(err, &agentErr) {
		return compactError(agentErr.Err)
	}
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func providerNames(ps []providers.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func drain(ch <-chan llmclient.Chunk) {
	for range ch {
	}
}
