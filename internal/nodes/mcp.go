package nodes

import (
	"context"
	"encoding/json"

	"github.com/cascadehq/cascade/pkg/schema"
)

// MCPExecutor handles mcp nodes. An mcp node is always a capability
// descriptor: it packages the server reference for downstream agents and
// performs no network call itself.
type MCPExecutor struct{}

func (e *MCPExecutor) Execute(_ context.Context, req *Request) (any, error) {
	var data schema.MCPNodeData
	if len(req.Node.Data) > 0 {
		if err := json.Unmarshal(req.Node.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "invalid mcp node data: %s", err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
	}
	if data.QualifiedName == "" {
		return nil, schema.NewError(schema.ErrCodeNodeExecution, "mcp node missing qualified_name").
			WithNode(req.Node.ID)
	}

	return schema.MCPDescriptor{
		ServerName:    data.ServerName,
		QualifiedName: data.QualifiedName,
		EnabledTools:  data.EnabledTools,
		ProfileID:     data.ProfileID,
		Config:        data.Config,
	}, nil
}
