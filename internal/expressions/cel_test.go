package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

// --- Basic evaluation ---

func TestCEL_BooleanLiteral(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_IntegerArithmetic(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

// --- Exit conditions ---

func TestCEL_ExitCondition_LoopAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"loop_state": map[string]any{
			"iteration":      int64(3),
			"max_iterations": int64(10),
		},
	}

	t.Run("iteration threshold", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `loop_state.iteration >= 3`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("below threshold", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `loop_state.iteration >= 5`, data)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})
}

func TestCEL_ExitCondition_OutputsAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"outputs": map[string]any{
			"reviewer": map[string]any{
				"text": "approved",
			},
		},
	}

	out, err := e.Evaluate(context.Background(), `outputs.reviewer.text == "approved"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_ExitCondition_VariablesAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"variables": map[string]any{
			"mode": "draft",
		},
	}

	out, err := e.Evaluate(context.Background(), `variables.mode == "draft"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_EvaluateBool(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"loop_state": map[string]any{"iteration": int64(2)},
	}

	ok, err := e.EvaluateBool(context.Background(), `loop_state.iteration < 5`, data)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.EvaluateBool(context.Background(), `loop_state.iteration`, data)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

// --- Error handling ---

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `invalid >>>`, map[string]any{})
	require.Error(t, err)

	ce, ok := err.(*schema.CascadeError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, ce.Code)
	assert.Contains(t, ce.Details, "expression")
}

func TestCEL_RuntimeError_MissingField(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"outputs": map[string]any{},
	}

	_, err = e.Evaluate(context.Background(), `outputs.nonexistent.field > 0`, data)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestCEL_MissingDataKeys_DefaultToEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `has(outputs.something)`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCEL_Sandbox_NoSystemAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Only variables/outputs/input/loop_state are declared; anything else
	// fails compilation.
	_, err = e.Evaluate(context.Background(), `os.env["HOME"]`, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_LoopStateCompiles(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// The loop variable must compile under its declared name; "loop" itself
	// is reserved by the CEL grammar and can never be used.
	data := map[string]any{
		"loop_state": map[string]any{"iteration": int64(2), "max_iterations": int64(2)},
	}
	ok, err := e.EvaluateBool(context.Background(), `loop_state.iteration >= loop_state.max_iterations`, data)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.Evaluate(context.Background(), `loop.iteration >= 2`, data)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

// --- Program caching and thread safety ---

func TestCEL_ProgramCaching(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{"loop_state": map[string]any{"iteration": int64(1)}}

	out1, err := e.Evaluate(context.Background(), `loop_state.iteration + 1`, data)
	require.NoError(t, err)

	e.mu.RLock()
	cacheLen := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 1, cacheLen, "program should be cached")

	out2, err := e.Evaluate(context.Background(), `loop_state.iteration + 1`, data)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestCEL_Concurrent(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 100)
	results := make([]any, 100)

	for i := range 100 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			data := map[string]any{
				"loop_state": map[string]any{
					"iteration": int64(idx),
				},
			}
			results[idx], errs[idx] = e.Evaluate(context.Background(), `loop_state.iteration >= 0`, data)
		}(i)
	}
	wg.Wait()

	for i := range 100 {
		assert.NoError(t, errs[i], "goroutine %d should not error", i)
		assert.Equal(t, true, results[i], "goroutine %d should return true", i)
	}
}

func TestCEL_NilData(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `has(loop_state.iteration)`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}
