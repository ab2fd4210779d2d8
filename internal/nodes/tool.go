package nodes

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cascadehq/cascade/internal/expressions"
	"github.com/cascadehq/cascade/pkg/schema"
)

// ToolExecutor handles tool nodes. A tool node with outgoing edges is a pure
// capability descriptor forwarded to downstream agents; a terminal tool node
// executes immediately against upstream output.
type ToolExecutor struct {
	expr   *expressions.ExprEngine
	jq     *expressions.GoJQEngine
	logger *slog.Logger
}

func (e *ToolExecutor) Execute(ctx context.Context, req *Request) (any, error) {
	var data schema.ToolNodeData
	if len(req.Node.Data) > 0 {
		if err := json.Unmarshal(req.Node.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "invalid tool node data: %s", err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
	}
	if data.ToolID == "" {
		return nil, schema.NewError(schema.ErrCodeNodeExecution, "tool node missing tool_id").
			WithNode(req.Node.ID)
	}

	if !req.Terminal {
		return schema.ToolDescriptor{
			ToolID:      data.ToolID,
			Name:        data.Name,
			Description: data.Description,
			InputSchema: data.InputSchema,
			Config:      data.Config,
		}, nil
	}

	args, err := buildToolInput(ctx, e, req, &data)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("terminal tool executed",
		slog.String("node_id", req.Node.ID),
		slog.String("tool_id", data.ToolID))

	return map[string]any{
		"tool_id": data.ToolID,
		"status":  "completed",
		"result":  args,
	}, nil
}
