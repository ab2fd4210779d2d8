package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/pkg/schema"
)

// handleRun executes an inline workflow definition to a terminal state.
func (s *CascadeServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := req.RequireString("account_id")
	if err != nil {
		return mcp.NewToolResultError("account_id is required"), nil
	}
	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}

	if s.validator != nil {
		if valErr := s.validator.ValidateDefinition(def); valErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", valErr)), nil
		}
	}

	variables := toStringMap(mcp.ParseStringMap(req, "variables", nil))
	threadID := req.GetString("thread_id", "")

	now := time.Now().UTC()
	exec := &store.WorkflowExecution{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		ThreadID:   threadID,
		Definition: *def,
		Status:     schema.ExecutionStatusPending,
		Variables:  variables,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if createErr := s.store.CreateExecution(ctx, exec); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create execution: %v", createErr)), nil
	}

	// Map the caller's session to the execution for push notifications.
	s.captureSession(ctx, exec.ID)

	result, runErr := s.engine.Execute(ctx, def, engine.RunOptions{
		ExecutionID: exec.ID,
		AccountID:   accountID,
		ThreadID:    threadID,
		Variables:   variables,
	})
	if runErr != nil {
		s.logger.Warn("workflow execution failed",
			slog.String("execution_id", exec.ID),
			slog.String("error", runErr.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("execution %s failed: %v", exec.ID, runErr)), nil
	}

	return marshalResult(map[string]any{
		"execution_id":  result.ExecutionID,
		"status":        result.Status,
		"outputs":       result.Outputs,
		"pending_nodes": result.PendingNodes,
	})
}

// handleValidate checks a definition without running it. A failed validation
// is a normal result, not a tool error.
func (s *CascadeServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, defErr := parseDefinition(req)
	if defErr != nil {
		return mcp.NewToolResultError(defErr.Error()), nil
	}
	if s.validator == nil {
		return mcp.NewToolResultError("no validator configured"), nil
	}

	if err := s.validator.ValidateDefinition(def); err != nil {
		return marshalResult(map[string]any{
			"valid": false,
			"error": err.Error(),
		})
	}
	return marshalResult(map[string]any{"valid": true})
}

// handleStatus returns an execution record plus its per-node states.
func (s *CascadeServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution lookup failed: %v", getErr)), nil
	}
	states, stateErr := s.store.ListNodeStates(ctx, executionID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("node state lookup failed: %v", stateErr)), nil
	}

	return marshalResult(map[string]any{
		"execution": exec,
		"nodes":     states,
	})
}

// handleEvents reads the durable event log for an execution.
func (s *CascadeServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	if eventType := req.GetString("event_type", ""); eventType != "" {
		events, qErr := s.store.GetEventsByType(ctx, eventType, store.EventFilter{
			ExecutionID: executionID,
		})
		if qErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", qErr)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	var since int64
	if raw := req.GetString("since", ""); raw != "" {
		n, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return mcp.NewToolResultError("since must be an integer sequence number"), nil
		}
		since = n
	}

	events, qErr := s.store.GetEvents(ctx, executionID, since)
	if qErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", qErr)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// handleQuery lists executions matching a filter.
func (s *CascadeServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := mcp.ParseStringMap(req, "filter", nil)

	ef := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}
	if accountID, ok := filter["account_id"].(string); ok {
		ef.AccountID = accountID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	executions, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

// --- Internal helpers ---

// parseDefinition extracts and decodes the definition argument.
func parseDefinition(req mcp.CallToolRequest) (*schema.WorkflowDefinition, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return nil, fmt.Errorf("definition is required")
	}

	defBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(defBytes, &def); err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	return &def, nil
}

// toStringMap narrows a JSON object to string values, skipping the rest.
func toStringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the execution ID to the caller's MCP session.
func (s *CascadeServer) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
