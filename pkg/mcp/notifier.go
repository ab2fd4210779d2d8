package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cascadehq/cascade/internal/streaming"
)

// StreamNotifier forwards live workflow events to the MCP session that
// started the execution.
type StreamNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	hub       streaming.EventHub
}

// NewStreamNotifier creates a notifier bridging the event hub to MCP push.
func NewStreamNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, hub streaming.EventHub) *StreamNotifier {
	return &StreamNotifier{mcpServer: mcpServer, sessions: sessions, hub: hub}
}

// Run subscribes to the hub and forwards events until ctx is cancelled.
func (n *StreamNotifier) Run(ctx context.Context) error {
	events, cancel, err := n.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			n.notify(event)
		}
	}
}

// notify pushes one event to the watching session. Best-effort: executions
// without a connected watcher are skipped.
func (n *StreamNotifier) notify(event streaming.StreamEvent) {
	sessionID, ok := n.sessions.SessionFor(event.ExecutionID)
	if !ok {
		return
	}

	payload := map[string]any{
		"execution_id": event.ExecutionID,
		"event_type":   event.EventType,
		"payload":      event.Payload,
	}
	if event.NodeID != "" {
		payload["node_id"] = event.NodeID
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
	}
}
