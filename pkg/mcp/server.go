package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/validation"
)

// CascadeServerDeps holds the dependencies for creating a CascadeServer.
type CascadeServerDeps struct {
	Engine    *engine.Engine
	Store     store.Store
	Validator validation.Validator
	Logger    *slog.Logger
}

// CascadeServer wraps an MCP server with cascade-specific tool handlers.
type CascadeServer struct {
	engine    *engine.Engine
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewCascadeServer creates a CascadeServer with all 5 tools registered.
func NewCascadeServer(deps CascadeServerDeps) *CascadeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CascadeServer{
		engine:    deps.Engine,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"cascade",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cascade executes visual workflow graphs. Use cascade.run to execute a workflow definition, cascade.validate to check a definition without running it, cascade.status to inspect an execution and its node states, cascade.events to read the execution event log, and cascade.query to list executions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CascadeServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CascadeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the execution-to-session registry used by the notifier.
func (s *CascadeServer) Sessions() *SessionRegistry {
	return s.sessions
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *CascadeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("cascade.run",
		mcp.WithDescription("Execute a workflow definition and wait for its terminal state"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (nodes, edges, variables)")),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Account the execution runs under")),
		mcp.WithObject("variables", mcp.Description("Run-time variables, merged over the definition's variables")),
		mcp.WithString("thread_id", mcp.Description("Conversation thread for agent nodes (created on demand)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("cascade.validate",
		mcp.WithDescription("Validate a workflow definition without executing it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object to validate")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("cascade.status",
		mcp.WithDescription("Get an execution's status and per-node states"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("cascade.events",
		mcp.WithDescription("Read the durable event log of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithString("since", mcp.Description("Return only events with a sequence greater than this number")),
		mcp.WithString("event_type", mcp.Description("Filter to one event type (node_status, workflow_status, loop_status, workflow_progress)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("cascade.query",
		mcp.WithDescription("List workflow executions"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, account_id, since, limit)")),
	)
}
