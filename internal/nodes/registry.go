package nodes

import (
	"log/slog"

	"github.com/cascadehq/cascade/internal/credentials"
	"github.com/cascadehq/cascade/internal/expressions"
	"github.com/cascadehq/cascade/internal/runtime"
	"github.com/cascadehq/cascade/pkg/schema"
)

// Dependencies are the external collaborators the executors need. All are
// constructor-injected; the registry owns none of their lifetimes.
type Dependencies struct {
	Runtime      runtime.AgentRuntime
	Credentials  credentials.Resolver
	Expr         *expressions.ExprEngine
	JQ           *expressions.GoJQEngine
	DefaultTools []string
	Logger       *slog.Logger
}

// Registry dispatches nodes to their type executor. The node-type set is
// closed: input, tool, mcp, agent.
type Registry struct {
	executors map[schema.NodeType]Executor
}

// NewRegistry builds the executor set.
func NewRegistry(deps Dependencies) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Expr == nil {
		deps.Expr = expressions.NewExprEngine()
	}
	if deps.JQ == nil {
		deps.JQ = expressions.NewGoJQEngine()
	}
	return &Registry{
		executors: map[schema.NodeType]Executor{
			schema.NodeTypeInput: &InputExecutor{},
			schema.NodeTypeTool:  &ToolExecutor{expr: deps.Expr, jq: deps.JQ, logger: deps.Logger},
			schema.NodeTypeMCP:   &MCPExecutor{},
			schema.NodeTypeAgent: &AgentExecutor{
				runtime:      deps.Runtime,
				credentials:  deps.Credentials,
				defaultTools: deps.DefaultTools,
				logger:       deps.Logger,
			},
		},
	}
}

// ExecutorFor returns the executor for a node type.
func (r *Registry) ExecutorFor(t schema.NodeType) (Executor, error) {
	ex, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", t)
	}
	return ex, nil
}
