// Package policy gates kill requests with an OPA rego policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// KillInput is the document evaluated by the policy.
type KillInput struct {
	TargetID     string `json:"target_id"`
	TargetStatus string `json:"target_status"`
	TargetKnown  bool   `json:"target_known"`
	Source       string `json:"source"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles policyContent. The module must define
// data.kill_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.kill_policy.decision"),
		rego.Module("kill_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile compiles the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the decision for a kill request. A policy that yields
// nothing allows the kill.
func (e *Engine) Evaluate(ctx context.Context, input KillInput) (domain.KillDecision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.KillDecisionAllow, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.KillDecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok && s == string(domain.KillDecisionBlock) {
		return domain.KillDecisionBlock, nil
	}
	return domain.KillDecisionAllow, nil
}

// DefaultPolicy allows every kill request.
const DefaultPolicy = `
package kill_policy

default decision = "allow"
`
