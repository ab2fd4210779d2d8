package nodes

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/cascadehq/cascade/internal/credentials"
	"github.com/cascadehq/cascade/internal/runtime"
	"github.com/cascadehq/cascade/pkg/schema"
)

// AgentExecutor handles agent nodes. It assembles the full runtime
// configuration (default tools, forwarded tool and mcp descriptors, legacy
// workflow-level declarations, resolved credentials), delegates to the
// external agent runtime, and concatenates the streamed text fragments into
// the node's output.
type AgentExecutor struct {
	runtime      runtime.AgentRuntime
	credentials  credentials.Resolver
	defaultTools []string
	logger       *slog.Logger
}

func (e *AgentExecutor) Execute(ctx context.Context, req *Request) (any, error) {
	if e.runtime == nil {
		return nil, schema.NewError(schema.ErrCodeAgentRuntime, "no agent runtime configured").
			WithNode(req.Node.ID)
	}

	var data schema.AgentNodeData
	if len(req.Node.Data) > 0 {
		if err := json.Unmarshal(req.Node.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "invalid agent node data: %s", err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
	}

	cfg := &runtime.AgentConfig{
		Model:         data.Model,
		SystemPrompt:  data.SystemPrompt,
		Prompt:        coerceText(primaryInput(req.Input)),
		MaxIterations: data.MaxIterations,
		LegacyTools:   req.LegacyTools,
	}

	for _, name := range e.defaultTools {
		cfg.Tools = append(cfg.Tools, schema.ToolDescriptor{ToolID: name})
	}
	for _, name := range data.DefaultTools {
		cfg.Tools = append(cfg.Tools, schema.ToolDescriptor{ToolID: name})
	}
	for _, item := range handleList(req.Input, "tools") {
		desc, err := asToolDescriptor(item)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "forwarded tool descriptor: %s", err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
		cfg.Tools = append(cfg.Tools, desc)
	}
	for _, item := range handleList(req.Input, "mcp") {
		desc, err := asMCPDescriptor(item)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "forwarded mcp descriptor: %s", err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
		cfg.MCPServers = append(cfg.MCPServers, desc)
	}

	if err := e.resolveCredentials(ctx, req, cfg); err != nil {
		return nil, err
	}

	fragments, err := e.runtime.Run(ctx, runtime.ThreadRef{
		ThreadID:    req.ThreadID,
		ExecutionID: req.ExecutionID,
		AccountID:   req.AccountID,
	}, cfg)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentRuntime, "agent run failed to start: %s", err.Error()).
			WithNode(req.Node.ID).WithCause(err)
	}

	var sb strings.Builder
	for frag := range fragments {
		switch frag.Kind {
		case runtime.FragmentText:
			sb.WriteString(frag.Text)
		case runtime.FragmentToolCall:
			e.logger.Debug("agent tool call",
				slog.String("node_id", req.Node.ID),
				slog.String("tool", frag.ToolName))
		case runtime.FragmentError:
			return nil, schema.NewErrorf(schema.ErrCodeAgentRuntime, "agent run failed: %s", frag.Err.Error()).
				WithNode(req.Node.ID).WithCause(frag.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentRuntime, "agent run cancelled: %s", err.Error()).
			WithNode(req.Node.ID).WithCause(err)
	}

	return sb.String(), nil
}

// resolveCredentials looks up a credential for every mcp server and legacy
// declaration that names an integration. Missing credentials are not an
// error; the runtime decides whether it can proceed without them.
func (e *AgentExecutor) resolveCredentials(ctx context.Context, req *Request, cfg *runtime.AgentConfig) error {
	if e.credentials == nil {
		return nil
	}

	wanted := make(map[string]string) // qualified name -> profile id
	for _, srv := range cfg.MCPServers {
		wanted[srv.QualifiedName] = srv.ProfileID
	}
	for _, decl := range req.LegacyTools {
		if decl.QualifiedName != "" {
			wanted[decl.QualifiedName] = decl.ProfileID
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	cfg.Credentials = make(map[string][]byte, len(wanted))
	for qn, profile := range wanted {
		blob, err := e.credentials.Resolve(ctx, req.AccountID, qn, profile)
		if err != nil {
			if schema.CodeOf(err) == schema.ErrCodeNotFound {
				continue
			}
			return schema.NewErrorf(schema.ErrCodeCredential, "resolve credential for %s: %s", qn, err.Error()).
				WithNode(req.Node.ID).WithCause(err)
		}
		cfg.Credentials[qn] = blob
	}
	return nil
}

// handleList returns the accumulated descriptor list wired into a handle.
func handleList(input map[string]any, handle string) []any {
	v, ok := input[handle]
	if !ok {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func asToolDescriptor(v any) (schema.ToolDescriptor, error) {
	switch t := v.(type) {
	case schema.ToolDescriptor:
		return t, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return schema.ToolDescriptor{}, err
		}
		var desc schema.ToolDescriptor
		if err := json.Unmarshal(raw, &desc); err != nil {
			return schema.ToolDescriptor{}, err
		}
		return desc, nil
	}
}

func asMCPDescriptor(v any) (schema.MCPDescriptor, error) {
	switch t := v.(type) {
	case schema.MCPDescriptor:
		return t, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return schema.MCPDescriptor{}, err
		}
		var desc schema.MCPDescriptor
		if err := json.Unmarshal(raw, &desc); err != nil {
			return schema.MCPDescriptor{}, err
		}
		return desc, nil
	}
}
