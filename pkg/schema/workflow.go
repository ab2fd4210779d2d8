package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable workflow format produced by the
// visual builder. Nodes and edges describe the canvas graph; Variables are the
// workflow-level string variables available to every node.
type WorkflowDefinition struct {
	ID               string              `json:"id,omitempty"`
	Name             string              `json:"name,omitempty"`
	Description      string              `json:"description,omitempty"`
	Nodes            []WorkflowNode      `json:"nodes"`
	Edges            []WorkflowEdge      `json:"edges"`
	Variables        map[string]string   `json:"variables,omitempty"`
	Tools            []AgentToolDecl     `json:"tools,omitempty"` // legacy workflow-level tool declarations
	Triggers         []TriggerDefinition `json:"triggers,omitempty"`
	MaxIterations    int                 `json:"max_iterations,omitempty"`     // global iteration cap (default 100)
	MaxExecutionTime string              `json:"max_execution_time,omitempty"` // recorded, not enforced
	Metadata         map[string]any      `json:"metadata,omitempty"`
}

// WorkflowNode is a single node on the canvas.
type WorkflowNode struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position Position        `json:"position,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"` // type-specific payload
}

// WorkflowEdge connects two nodes. Handles name the port on each side; the
// target handle decides how the source output is routed into the target input.
type WorkflowEdge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Position is the canvas coordinate of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeInput NodeType = "input"
	NodeTypeTool  NodeType = "tool"
	NodeTypeMCP   NodeType = "mcp"
	NodeTypeAgent NodeType = "agent"
)

// InputNodeData is the data payload for input-type nodes.
type InputNodeData struct {
	Label     string            `json:"label,omitempty"`
	Prompt    string            `json:"prompt"` // may contain {variable} placeholders
	Variables map[string]string `json:"variables,omitempty"`
	Raw       json.RawMessage   `json:"raw,omitempty"`
}

// ToolNodeData is the data payload for tool-type nodes.
type ToolNodeData struct {
	Label           string          `json:"label,omitempty"`
	ToolID          string          `json:"tool_id"`
	Name            string          `json:"name,omitempty"`
	Description     string          `json:"description,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	InputExpression string          `json:"input_expression,omitempty"` // expr program building the invocation arguments
	Query           string          `json:"query,omitempty"`            // jq program for extractor tools
	Config          json.RawMessage `json:"config,omitempty"`
}

// MCPNodeData is the data payload for mcp-type nodes.
type MCPNodeData struct {
	Label         string          `json:"label,omitempty"`
	ServerName    string          `json:"server_name"`
	QualifiedName string          `json:"qualified_name"`
	EnabledTools  []string        `json:"enabled_tools,omitempty"`
	ProfileID     string          `json:"profile_id,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// AgentNodeData is the data payload for agent-type nodes.
type AgentNodeData struct {
	Label         string          `json:"label,omitempty"`
	Model         string          `json:"model,omitempty"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"` // loop bound when this node closes a cycle
	ExitCondition string          `json:"exit_condition,omitempty"` // CEL expression evaluated at the loop-closing node
	DefaultTools  []string        `json:"default_tools,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// LoopNodeData is the subset of node data read by the loop detector.
// Any node type can carry loop bounds; the entry node's values win.
type LoopNodeData struct {
	MaxIterations int    `json:"max_iterations,omitempty"`
	ExitCondition string `json:"exit_condition,omitempty"`
}

// AgentToolDecl is a legacy workflow-level tool declaration. Older definitions
// attach tools to the workflow instead of wiring them with edges; agents still
// receive them alongside edge-forwarded descriptors.
type AgentToolDecl struct {
	Name          string          `json:"name"`
	Type          string          `json:"type"` // tool | mcp
	QualifiedName string          `json:"qualified_name,omitempty"`
	EnabledTools  []string        `json:"enabled_tools,omitempty"`
	ProfileID     string          `json:"profile_id,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// TriggerDefinition declares how a workflow is started. Delivery is handled
// outside the engine; the engine only validates the declaration.
type TriggerDefinition struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type"` // schedule | webhook | manual
	CronExpression string          `json:"cron_expression,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// ToolDescriptor is the capability descriptor a non-terminal tool node
// forwards to a downstream agent.
type ToolDescriptor struct {
	ToolID      string          `json:"tool_id"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// MCPDescriptor is the server descriptor an mcp node forwards to a
// downstream agent.
type MCPDescriptor struct {
	ServerName    string          `json:"server_name"`
	QualifiedName string          `json:"qualified_name"`
	EnabledTools  []string        `json:"enabled_tools,omitempty"`
	ProfileID     string          `json:"profile_id,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
}
