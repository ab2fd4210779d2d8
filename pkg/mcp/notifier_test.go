package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/streaming"
)

func TestStreamNotifier_SkipsUnwatchedExecutions(t *testing.T) {
	s := NewCascadeServer(CascadeServerDeps{})
	n := NewStreamNotifier(s.MCPServer(), s.Sessions(), streaming.NewMemoryHub())

	// No session registered: the event is dropped silently.
	n.notify(streaming.StreamEvent{ExecutionID: "exec-1", EventType: "node_status"})
}

func TestStreamNotifier_RemovesExpiredSessions(t *testing.T) {
	s := NewCascadeServer(CascadeServerDeps{})
	n := NewStreamNotifier(s.MCPServer(), s.Sessions(), streaming.NewMemoryHub())

	// The registry maps to a session the MCP server no longer knows about.
	s.Sessions().Register("exec-1", "stale-session")
	n.notify(streaming.StreamEvent{ExecutionID: "exec-1", EventType: "node_status"})

	_, ok := s.Sessions().SessionFor("exec-1")
	assert.False(t, ok, "stale mapping should be removed")
}

func TestStreamNotifier_RunStopsOnCancel(t *testing.T) {
	s := NewCascadeServer(CascadeServerDeps{})
	hub := streaming.NewMemoryHub()
	n := NewStreamNotifier(s.MCPServer(), s.Sessions(), hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// An event for an unwatched execution flows through without effect.
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{ExecutionID: "exec-1", EventType: "node_status"}))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop after cancel")
	}
}
