package expressions

import "context"

// Engine evaluates expressions during workflow interpretation.
// Three implementations: CEL (loop exit conditions), GoJQ (extractor tools),
// Expr (tool input builders).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
