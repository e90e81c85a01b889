package condition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/execctx"
)

func TestEvaluate_EmptyExpressionIsTrue(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(context.Background(), "", execctx.New(nil))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ComparesContextVariable(t *testing.T) {
	e := NewEvaluator()
	ec := execctx.New(map[string]string{"status": "approved"})

	ok, err := e.Evaluate(context.Background(), `vars.status === "approved"`, ec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(context.Background(), `vars.status === "rejected"`, ec)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_LogicalOperators(t *testing.T) {
	e := NewEvaluator()
	ec := execctx.New(map[string]string{"amount": "150", "region": "us"})

	ok, err := e.Evaluate(context.Background(), `vars.region === "us" && Number(vars.amount) > 100`, ec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_SandboxDisablesRequire(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(context.Background(), `(typeof require === "function")`, execctx.New(nil))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_InvalidExpressionErrors(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate(context.Background(), `vars.x ===`, execctx.New(nil))
	assert.Error(t, err)
}
