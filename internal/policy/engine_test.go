package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

const protectFinished = `
package kill_policy

default decision = "allow"

decision = "block" {
	input.target_status == "success"
}
`

func TestDefaultPolicyAllows(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	got, err := e.Evaluate(ctx, KillInput{TargetID: "a", TargetKnown: true, TargetStatus: "working"})
	require.NoError(t, err)
	assert.Equal(t, domain.KillDecisionAllow, got)

	got, err = e.Evaluate(ctx, KillInput{TargetID: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, domain.KillDecisionAllow, got)
}

func TestCustomPolicyBlocks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kill.rego")
	require.NoError(t, os.WriteFile(path, []byte(protectFinished), 0o644))

	e, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)

	got, err := e.Evaluate(ctx, KillInput{TargetID: "a", TargetKnown: true, TargetStatus: "success"})
	require.NoError(t, err)
	assert.Equal(t, domain.KillDecisionBlock, got)

	got, err = e.Evaluate(ctx, KillInput{TargetID: "b", TargetKnown: true, TargetStatus: "working"})
	require.NoError(t, err)
	assert.Equal(t, domain.KillDecisionAllow, got)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package kill_policy\ndecision = {")
	assert.Error(t, err)

	_, err = NewEngineFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}
