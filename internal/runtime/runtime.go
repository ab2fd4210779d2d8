package runtime

import (
	"context"

	"github.com/cascadehq/cascade/pkg/schema"
)

// ThreadRef identifies the conversation an agent run belongs to.
type ThreadRef struct {
	ThreadID    string
	ExecutionID string
	AccountID   string
}

// AgentConfig is the fully-merged configuration handed to the runtime for a
// single agent run: node settings plus every tool capability wired in by
// upstream nodes or declared at the workflow level.
type AgentConfig struct {
	Model         string
	SystemPrompt  string
	Prompt        string
	MaxIterations int
	Tools         []schema.ToolDescriptor
	MCPServers    []schema.MCPDescriptor
	LegacyTools   []schema.AgentToolDecl
	Credentials   map[string][]byte
}

// FragmentKind discriminates streamed runtime fragments.
type FragmentKind string

const (
	FragmentText     FragmentKind = "text"
	FragmentToolCall FragmentKind = "tool_call"
	FragmentStatus   FragmentKind = "status"
	FragmentError    FragmentKind = "error"
)

// Fragment is one streamed chunk of an agent run. Text fragments carry
// assistant output; tool_call fragments name the tool the agent invoked;
// error fragments terminate the stream.
type Fragment struct {
	Kind     FragmentKind
	Text     string
	ToolName string
	Err      error
}

// AgentRuntime executes an agent turn and streams fragments back. The channel
// is closed when the run completes; a trailing error fragment signals failure.
type AgentRuntime interface {
	Run(ctx context.Context, ref ThreadRef, cfg *AgentConfig) (<-chan Fragment, error)
}
