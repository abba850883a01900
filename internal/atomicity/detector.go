// Package atomicity implements the AtomicityDetector (spec.md §4.3): a
// deterministic rule layer runs first against the four invariants in
// model.Task.Validate, and only a task that passes every rule but still
// warrants a second opinion is sent to the oracle. Grounded on the teacher's
// two-phase validation idiom (infrastructure/service health-check-then-RPC
// pattern) adapted to task/atomicity judgement.
package atomicity

import (
	"context"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/oracle"
	"github.com/vibeorch/engine/internal/resilience"
)

// Verdict is the outcome of an atomicity check.
type Verdict struct {
	IsAtomic   bool
	Confidence float64
	Reasoning  string
	Warnings   []string
}

// Detector evaluates tasks against the deterministic rules and, when those
// pass, the oracle's judgement.
type Detector struct {
	client   oracle.Client
	timeouts *resilience.TimeoutManager
	registry *config.ConfigRegistry
}

// New builds a Detector.
func New(client oracle.Client, timeouts *resilience.TimeoutManager, registry *config.ConfigRegistry) *Detector {
	return &Detector{client: client, timeouts: timeouts, registry: registry}
}

// Check evaluates t. Deterministic rule violations short-circuit with
// IsAtomic=false and confidence 0 (spec.md §4.6: "any failed rule forces
// isAtomic=false and confidence=0"). A task that clears every rule is
// escalated to the oracle; an oracle failure (timeout, malformed reply, or
// any other error) yields the fallback verdict from spec.md §4.3 rather
// than propagating the error, so a flaky oracle degrades decomposition
// quality instead of halting it.
func (d *Detector) Check(ctx context.Context, t model.Task, proj model.ProjectContext) Verdict {
	if problems := t.Validate(); len(problems) > 0 {
		metrics.AtomicityChecks.WithLabelValues("split").Inc()
		return Verdict{IsAtomic: false, Confidence: 0, Reasoning: "deterministic rule violation", Warnings: problems}
	}

	prompt := buildPrompt(t, proj)
	result := d.timeouts.Run(ctx, config.OpTaskRefinement, func(ctx context.Context) (interface{}, error) {
		return d.client.Ask(ctx, prompt, oracle.KindAtomicityVerdict)
	})
	if !result.OK {
		metrics.AtomicityChecks.WithLabelValues("fallback").Inc()
		return fallback()
	}

	v := oracle.ExtractAtomicityVerdict(result.Value.(string))
	limits := d.registry.GetLimits()
	isAtomic := v.IsAtomic
	warnings := []string(nil)
	if v.Confidence < limits.MinConfidence {
		isAtomic = false
		warnings = []string{"confidence below floor"}
	}
	// Confidence for a non-atomic verdict is always reported as 0 once
	// normalized, per spec.md §4.6; only a true isAtomic=true verdict
	// carries the oracle's actual confidence value.
	conf := v.Confidence
	if !isAtomic {
		conf = 0
	}
	if isAtomic {
		metrics.AtomicityChecks.WithLabelValues("atomic").Inc()
	} else {
		metrics.AtomicityChecks.WithLabelValues("split").Inc()
	}
	return Verdict{IsAtomic: isAtomic, Confidence: conf, Reasoning: v.Reasoning, Warnings: warnings}
}

func fallback() Verdict {
	return Verdict{IsAtomic: false, Confidence: 0.4, Reasoning: "oracle unavailable"}
}

func buildPrompt(t model.Task, proj model.ProjectContext) string {
	return "Is this task atomic (a single, mechanical, reviewable unit of work)? " +
		"Respond with JSON {isAtomic, confidence, reasoning}.\n" +
		"Title: " + t.Title + "\n" +
		"Description: " + t.Description
}
