package nodes

import (
	"context"
	"encoding/json"

	"github.com/cascadehq/cascade/internal/expressions"
	"github.com/cascadehq/cascade/pkg/schema"
)

// InputExecutor resolves an input node's prompt. Placeholders like {name} are
// substituted from the workflow variables; node-level variable defaults fill
// any key the run did not supply.
type InputExecutor struct{}

func (e *InputExecutor) Execute(_ context.Context, req *Request) (any, error) {
	var data schema.InputNodeData
	if len(req.Node.Data) > 0 {
		if err := json.Unmarshal(req.Node.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "invalid input node data: %s", err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
	}

	vars := make(map[string]string, len(data.Variables)+len(req.Variables))
	for k, v := range data.Variables {
		vars[k] = v
	}
	for k, v := range req.Variables {
		vars[k] = v
	}

	prompt, err := expressions.Substitute(data.Prompt, vars)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "prompt substitution: %s", err.Error()).
			WithNode(req.Node.ID).WithCause(err)
	}

	out := map[string]any{"prompt": prompt}
	if len(data.Raw) > 0 {
		var raw any
		if err := json.Unmarshal(data.Raw, &raw); err == nil {
			out["raw-data"] = raw
		}
	} else {
		out["raw-data"] = nil
	}
	return out, nil
}
