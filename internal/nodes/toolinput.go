package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cascadehq/cascade/internal/expressions"
	"github.com/cascadehq/cascade/pkg/schema"
)

// inputBuilder shapes the invocation arguments for one family of tools.
type inputBuilder func(ctx context.Context, e *ToolExecutor, req *Request, data *schema.ToolNodeData) (map[string]any, error)

// builders maps tool-id substrings to input builders. Matching is first-hit
// in declaration order; unmatched ids fall through to the generic builder.
var builders = []struct {
	match string
	build inputBuilder
}{
	{"files", buildFileInput},
	{"search", buildSearchInput},
	{"extract", buildExtractInput},
}

// buildToolInput derives a terminal tool node's invocation arguments from
// upstream output. An explicit input_expression takes priority over the
// id-based lookup.
func buildToolInput(ctx context.Context, e *ToolExecutor, req *Request, data *schema.ToolNodeData) (map[string]any, error) {
	if data.InputExpression != "" {
		return buildExpressionInput(ctx, e, req, data)
	}
	for _, b := range builders {
		if strings.Contains(data.ToolID, b.match) {
			return b.build(ctx, e, req, data)
		}
	}
	return buildGenericInput(ctx, e, req, data)
}

// buildFileInput feeds upstream agent text into a file-creation call with a
// generated report filename.
func buildFileInput(_ context.Context, _ *ToolExecutor, req *Request, _ *schema.ToolNodeData) (map[string]any, error) {
	text := coerceText(primaryInput(req.Input))
	return map[string]any{
		"operation":     "create",
		"file_path":     fmt.Sprintf("report-%s.md", uuid.NewString()[:8]),
		"file_contents": text,
	}, nil
}

// buildSearchInput turns the node's instructions into a search query.
func buildSearchInput(_ context.Context, _ *ToolExecutor, req *Request, data *schema.ToolNodeData) (map[string]any, error) {
	query, err := expressions.Substitute(data.Instructions, req.Variables)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "search query substitution: %s", err.Error()).
			WithNode(req.Node.ID).WithCause(err)
	}
	if query == "" {
		query = coerceText(primaryInput(req.Input))
	}
	return map[string]any{"query": query}, nil
}

// buildExtractInput runs the node's jq query over the upstream payload.
func buildExtractInput(ctx context.Context, e *ToolExecutor, req *Request, data *schema.ToolNodeData) (map[string]any, error) {
	if data.Query == "" {
		return buildGenericInput(ctx, e, req, data)
	}
	out, err := e.jq.Evaluate(ctx, data.Query, req.Input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "jq extraction: %s", err.Error()).
			WithNode(req.Node.ID).WithCause(err)
	}
	return map[string]any{"extracted": out}, nil
}

// buildExpressionInput evaluates the node's expr program; its result must be
// a map, which becomes the invocation arguments verbatim.
func buildExpressionInput(ctx context.Context, e *ToolExecutor, req *Request, data *schema.ToolNodeData) (map[string]any, error) {
	env := map[string]any{
		"input":        primaryInput(req.Input),
		"text":         coerceText(primaryInput(req.Input)),
		"instructions": data.Instructions,
		"variables":    variablesEnv(req.Variables),
		"handles":      req.Input,
	}
	out, err := e.expr.Evaluate(ctx, data.InputExpression, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "input expression: %s", err.Error()).
			WithNode(req.Node.ID).WithCause(err)
	}
	args, ok := out.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"input expression must produce a map, got %T", out).WithNode(req.Node.ID)
	}
	return args, nil
}

// buildGenericInput is the fallback for unmatched tool ids: the upstream text
// is offered under several generic keys so most tools find what they expect.
func buildGenericInput(_ context.Context, _ *ToolExecutor, req *Request, data *schema.ToolNodeData) (map[string]any, error) {
	text := coerceText(primaryInput(req.Input))
	return map[string]any{
		"input":        text,
		"text":         text,
		"query":        text,
		"instructions": data.Instructions,
	}, nil
}

func variablesEnv(vars map[string]string) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
