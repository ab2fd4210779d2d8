package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/runtime"
	"github.com/cascadehq/cascade/pkg/schema"
)

// fakeRuntime records the config it was called with and streams canned
// fragments.
type fakeRuntime struct {
	gotRef    runtime.ThreadRef
	gotConfig *runtime.AgentConfig
	fragments []runtime.Fragment
	startErr  error
}

func (f *fakeRuntime) Run(_ context.Context, ref runtime.ThreadRef, cfg *runtime.AgentConfig) (<-chan runtime.Fragment, error) {
	f.gotRef = ref
	f.gotConfig = cfg
	if f.startErr != nil {
		return nil, f.startErr
	}
	out := make(chan runtime.Fragment, len(f.fragments))
	for _, frag := range f.fragments {
		out <- frag
	}
	close(out)
	return out, nil
}

// fakeResolver resolves from a fixed map.
type fakeResolver struct {
	creds map[string][]byte
}

func (f *fakeResolver) Resolve(_ context.Context, _, qualifiedName, _ string) ([]byte, error) {
	v, ok := f.creds[qualifiedName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", qualifiedName)
	}
	return v, nil
}

func agentNode(t *testing.T, data schema.AgentNodeData) schema.WorkflowNode {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return schema.WorkflowNode{ID: "agent-1", Type: schema.NodeTypeAgent, Data: raw}
}

func newAgentExecutor(rt runtime.AgentRuntime, res *fakeResolver) *AgentExecutor {
	ex := &AgentExecutor{
		runtime:      rt,
		defaultTools: []string{"sb_files_tool"},
		logger:       slog.Default(),
	}
	if res != nil {
		ex.credentials = res
	}
	return ex
}

func TestAgentExecutor_ConcatenatesTextFragments(t *testing.T) {
	rt := &fakeRuntime{fragments: []runtime.Fragment{
		{Kind: runtime.FragmentText, Text: "hello "},
		{Kind: runtime.FragmentStatus, Text: "thinking"},
		{Kind: runtime.FragmentText, Text: "world"},
	}}
	ex := newAgentExecutor(rt, nil)

	out, err := ex.Execute(context.Background(), &Request{
		Node:  agentNode(t, schema.AgentNodeData{Model: "gpt-4o"}),
		Input: map[string]any{"input": map[string]any{"prompt": "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.Equal(t, "go", rt.gotConfig.Prompt)
	assert.Equal(t, "gpt-4o", rt.gotConfig.Model)
}

func TestAgentExecutor_MergesToolSources(t *testing.T) {
	rt := &fakeRuntime{}
	ex := newAgentExecutor(rt, nil)

	_, err := ex.Execute(context.Background(), &Request{
		Node: agentNode(t, schema.AgentNodeData{DefaultTools: []string{"sb_shell_tool"}}),
		Input: map[string]any{
			"tools": []any{
				schema.ToolDescriptor{ToolID: "web_search_tool", Name: "Web Search"},
				map[string]any{"tool_id": "data_tool"},
			},
			"mcp": []any{
				schema.MCPDescriptor{ServerName: "exa", QualifiedName: "exa-mcp"},
			},
		},
		LegacyTools: []schema.AgentToolDecl{{Name: "legacy", Type: "tool"}},
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(rt.gotConfig.Tools))
	for _, d := range rt.gotConfig.Tools {
		ids = append(ids, d.ToolID)
	}
	assert.Equal(t, []string{"sb_files_tool", "sb_shell_tool", "web_search_tool", "data_tool"}, ids)
	require.Len(t, rt.gotConfig.MCPServers, 1)
	assert.Equal(t, "exa-mcp", rt.gotConfig.MCPServers[0].QualifiedName)
	assert.Equal(t, []schema.AgentToolDecl{{Name: "legacy", Type: "tool"}}, rt.gotConfig.LegacyTools)
}

func TestAgentExecutor_ResolvesCredentials(t *testing.T) {
	rt := &fakeRuntime{}
	res := &fakeResolver{creds: map[string][]byte{"exa-mcp": []byte("secret")}}
	ex := newAgentExecutor(rt, res)

	_, err := ex.Execute(context.Background(), &Request{
		Node:      agentNode(t, schema.AgentNodeData{}),
		AccountID: "acct-1",
		Input: map[string]any{
			"mcp": []any{
				schema.MCPDescriptor{QualifiedName: "exa-mcp"},
				schema.MCPDescriptor{QualifiedName: "no-cred-mcp"},
			},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, rt.gotConfig.Credentials)
	assert.Equal(t, []byte("secret"), rt.gotConfig.Credentials["exa-mcp"])
	// Missing credential is skipped, not fatal.
	_, ok := rt.gotConfig.Credentials["no-cred-mcp"]
	assert.False(t, ok)
}

func TestAgentExecutor_RuntimeErrorFragment(t *testing.T) {
	rt := &fakeRuntime{fragments: []runtime.Fragment{
		{Kind: runtime.FragmentText, Text: "partial"},
		{Kind: runtime.FragmentError, Err: errors.New("model overloaded")},
	}}
	ex := newAgentExecutor(rt, nil)

	_, err := ex.Execute(context.Background(), &Request{
		Node: agentNode(t, schema.AgentNodeData{}),
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAgentRuntime, schema.CodeOf(err))
}

func TestAgentExecutor_RuntimeStartError(t *testing.T) {
	rt := &fakeRuntime{startErr: errors.New("unreachable")}
	ex := newAgentExecutor(rt, nil)

	_, err := ex.Execute(context.Background(), &Request{
		Node: agentNode(t, schema.AgentNodeData{}),
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAgentRuntime, schema.CodeOf(err))
}

func TestAgentExecutor_NoRuntimeConfigured(t *testing.T) {
	ex := &AgentExecutor{logger: slog.Default()}
	_, err := ex.Execute(context.Background(), &Request{
		Node: schema.WorkflowNode{ID: "agent-1", Type: schema.NodeTypeAgent},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAgentRuntime, schema.CodeOf(err))
}

func TestAgentExecutor_ThreadRefForwarded(t *testing.T) {
	rt := &fakeRuntime{}
	ex := newAgentExecutor(rt, nil)

	_, err := ex.Execute(context.Background(), &Request{
		Node:        agentNode(t, schema.AgentNodeData{}),
		ExecutionID: "exec-1",
		AccountID:   "acct-1",
		ThreadID:    "th-1",
	})
	require.NoError(t, err)
	assert.Equal(t, runtime.ThreadRef{ThreadID: "th-1", ExecutionID: "exec-1", AccountID: "acct-1"}, rt.gotRef)
}
