package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCascadeServer(t *testing.T) {
	s := NewCascadeServer(CascadeServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.sessions)
}

func TestToolRegistration(t *testing.T) {
	s := NewCascadeServer(CascadeServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"cascade.run",
		"cascade.validate",
		"cascade.status",
		"cascade.events",
		"cascade.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "cascade.run", "Execute a workflow definition and wait for its terminal state"},
		{"validate", "cascade.validate", "Validate a workflow definition without executing it"},
		{"status", "cascade.status", "Get an execution's status and per-node states"},
		{"events", "cascade.events", "Read the durable event log of an execution"},
		{"query", "cascade.query", "List workflow executions"},
	}

	s := NewCascadeServer(CascadeServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
