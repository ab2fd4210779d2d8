package streaming

import (
	"context"

	"github.com/cascadehq/cascade/pkg/schema"
)

// StreamEvent is a real-time event emitted during workflow execution.
type StreamEvent struct {
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
	EventType   string `json:"event_type"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time workflow events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// NodeStatusEvent builds a node_status stream event.
func NodeStatusEvent(executionID string, payload schema.NodeStatusPayload) StreamEvent {
	return StreamEvent{
		ExecutionID: executionID,
		NodeID:      payload.NodeID,
		EventType:   schema.EventNodeStatus,
		Payload:     payload,
	}
}

// ProgressEvent builds a workflow_progress stream event.
func ProgressEvent(executionID string, payload schema.WorkflowProgressPayload) StreamEvent {
	return StreamEvent{
		ExecutionID: executionID,
		NodeID:      payload.CurrentNode,
		EventType:   schema.EventWorkflowProgress,
		Payload:     payload,
	}
}

// LoopStatusEvent builds a loop_status stream event.
func LoopStatusEvent(executionID string, payload schema.LoopStatusPayload) StreamEvent {
	return StreamEvent{
		ExecutionID: executionID,
		NodeID:      payload.EntryNode,
		EventType:   schema.EventLoopStatus,
		Payload:     payload,
	}
}

// WorkflowStatusEvent builds a workflow_status stream event.
func WorkflowStatusEvent(executionID string, payload schema.WorkflowStatusPayload) StreamEvent {
	return StreamEvent{
		ExecutionID: executionID,
		EventType:   schema.EventWorkflowStatus,
		Payload:     payload,
	}
}
