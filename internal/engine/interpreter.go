package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/nodes"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/streaming"
	"github.com/cascadehq/cascade/pkg/schema"
)

// run is the interpreter state machine for one execution. Nodes are processed
// strictly one at a time from a FIFO queue; loops re-enter through their
// entry node until an exit condition fires or the iteration bound is hit.
type run struct {
	engine *Engine
	graph  *graph.Graph
	def    *schema.WorkflowDefinition
	rctx   *Context

	loops   map[string]*loopState // node ID → owning loop state
	queue   []string
	inQueue map[string]bool
	done    map[string]bool
}

func newRun(e *Engine, g *graph.Graph, loops []*graph.Loop, def *schema.WorkflowDefinition, opts RunOptions) *run {
	states := make(map[string]*loopState)
	for _, l := range loops {
		ls := &loopState{loop: l}
		for _, m := range l.Members {
			states[m] = ls
		}
	}
	return &run{
		engine:  e,
		graph:   g,
		def:     def,
		rctx:    newContext(def, opts),
		loops:   states,
		inQueue: make(map[string]bool),
		done:    make(map[string]bool),
	}
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	r.start(ctx)

	for _, id := range r.graph.EntryPoints {
		r.enqueue(id)
	}

	for len(r.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, "", schema.NewErrorf(schema.ErrCodeExecution,
				"execution cancelled: %s", err.Error()).WithCause(err))
		}

		r.rctx.Iterations++
		if r.rctx.Iterations > r.rctx.MaxIterations {
			return r.fail(ctx, "", schema.NewErrorf(schema.ErrCodeIterationLimit,
				"global iteration limit of %d exceeded", r.rctx.MaxIterations))
		}

		id := r.dequeue()
		ls := r.loops[id]

		if r.done[id] {
			continue
		}

		// Dependencies outside the node's own loop must be complete;
		// loop-internal dependencies are exempt. Unmet gates requeue at the
		// back, bounded by the global iteration cap.
		if !r.dependenciesMet(id, ls) {
			r.enqueue(id)
			continue
		}

		if ls != nil && ls.iteration == 0 {
			ls.iteration = 1
			r.emitLoop(ctx, ls, schema.LoopPhaseStarted, false)
		}

		output, nodeErr := r.executeNode(ctx, id, ls)
		if nodeErr != nil {
			return r.fail(ctx, id, nodeErr)
		}

		r.rctx.Outputs[id] = output
		r.done[id] = true
		r.emitProgress(ctx, id)

		if ls != nil {
			if id == ls.loop.ClosingNode {
				r.closeIteration(ctx, ls, output)
			} else {
				// Mid-loop node: only loop-internal dependents advance now;
				// external dependents wait for the loop to exit.
				for _, dep := range r.graph.Dependents[id] {
					if ls.loop.Contains(dep) {
						r.enqueue(dep)
					}
				}
			}
			continue
		}

		for _, dep := range r.graph.Dependents[id] {
			r.enqueue(dep)
		}
	}

	return r.complete(ctx)
}

// executeNode runs one node through its type executor, bracketed by running
// and completed/failed node_status events and node-state persistence.
func (r *run) executeNode(ctx context.Context, id string, ls *loopState) (any, error) {
	node := r.graph.Nodes[id]
	iteration := 0
	if ls != nil {
		iteration = ls.iteration
	}
	startedAt := time.Now().UTC()

	r.emitNode(ctx, schema.NodeStatusPayload{
		NodeID:   id,
		NodeType: node.Type,
		Status:   schema.NodeStatusRunning,
	})

	input := prepareInput(r.graph, id, r.rctx.Outputs)
	r.persistNodeState(ctx, &store.NodeState{
		ExecutionID: r.rctx.ExecutionID,
		NodeID:      id,
		NodeType:    node.Type,
		Status:      schema.NodeStatusRunning,
		Input:       marshalJSON(input),
		Iteration:   iteration,
		StartedAt:   &startedAt,
	})

	executor, err := r.engine.registry.ExecutorFor(node.Type)
	if err != nil {
		return nil, err
	}

	output, err := executor.Execute(ctx, &nodes.Request{
		Node:        *node,
		Input:       input,
		Variables:   r.rctx.Variables,
		Terminal:    !r.graph.HasOutgoing(id),
		LegacyTools: r.def.Tools,
		ExecutionID: r.rctx.ExecutionID,
		AccountID:   r.rctx.AccountID,
		ThreadID:    r.rctx.ThreadID,
	})
	completedAt := time.Now().UTC()

	entry := HistoryEntry{
		NodeID:      id,
		NodeType:    node.Type,
		Iteration:   iteration,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}

	if err != nil {
		entry.Status = schema.NodeStatusFailed
		entry.Error = err.Error()
		r.rctx.History = append(r.rctx.History, entry)

		r.persistNodeState(ctx, &store.NodeState{
			ExecutionID: r.rctx.ExecutionID,
			NodeID:      id,
			NodeType:    node.Type,
			Status:      schema.NodeStatusFailed,
			Error:       marshalJSON(err.Error()),
			Iteration:   iteration,
			StartedAt:   &startedAt,
			CompletedAt: &completedAt,
			DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
		})
		return nil, err
	}

	entry.Status = schema.NodeStatusCompleted
	r.rctx.History = append(r.rctx.History, entry)

	r.emitNode(ctx, schema.NodeStatusPayload{
		NodeID:   id,
		NodeType: node.Type,
		Status:   schema.NodeStatusCompleted,
		Output:   output,
	})
	r.persistNodeState(ctx, &store.NodeState{
		ExecutionID: r.rctx.ExecutionID,
		NodeID:      id,
		NodeType:    node.Type,
		Status:      schema.NodeStatusCompleted,
		Input:       marshalJSON(input),
		Output:      marshalJSON(output),
		Iteration:   iteration,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	})

	return output, nil
}

// closeIteration runs after the loop's closing node completes iteration N:
// either the loop exits (condition fired, or N reached the bound) or the
// entry node re-enters as iteration N+1 with member completion flags cleared.
// The cap is checked here, after the iteration ran, so MaxIterations=N means
// the body executes exactly N times.
func (r *run) closeIteration(ctx context.Context, ls *loopState, closingOutput any) {
	if r.exitConditionMet(ctx, ls, closingOutput) {
		r.exitLoop(ctx, ls, false)
		return
	}
	if ls.iteration >= ls.loop.MaxIterations {
		r.exitLoop(ctx, ls, true)
		return
	}

	for _, m := range ls.loop.Members {
		delete(r.done, m)
	}
	ls.iteration++
	r.emitLoop(ctx, ls, schema.LoopPhaseIteration, false)
	r.enqueue(ls.loop.EntryNode)
}

// exitLoop finishes a loop: all members are marked completed and every
// dependent outside the loop is released into the queue.
func (r *run) exitLoop(ctx context.Context, ls *loopState, forced bool) {
	for _, m := range ls.loop.Members {
		r.done[m] = true
	}
	r.emitLoop(ctx, ls, schema.LoopPhaseCompleted, forced)

	for _, m := range ls.loop.Members {
		for _, dep := range r.graph.Dependents[m] {
			if !ls.loop.Contains(dep) {
				r.enqueue(dep)
			}
		}
	}
}

// exitConditionMet evaluates the loop's exit condition against the closing
// node's output. Without an explicit CEL condition, the agent output is
// scanned for a stop signal.
func (r *run) exitConditionMet(ctx context.Context, ls *loopState, closingOutput any) bool {
	if ls.loop.ExitCondition != "" {
		met, err := r.engine.cel.EvaluateBool(ctx, ls.loop.ExitCondition, map[string]any{
			"variables": stringMapToAny(r.rctx.Variables),
			"outputs":   r.rctx.Outputs,
			"input":     closingOutput,
			"loop_state": map[string]any{
				"iteration":      ls.iteration,
				"max_iterations": ls.loop.MaxIterations,
			},
		})
		if err != nil {
			r.engine.logger.Warn("loop exit condition failed, continuing loop",
				slog.String("execution_id", r.rctx.ExecutionID),
				slog.String("loop_id", ls.loop.ID),
				slog.String("error", err.Error()))
			return false
		}
		return met
	}
	return containsStopSignal(closingOutput)
}

// stopSignals are the markers an agent can emit to end its loop early.
var stopSignals = []string{"loop_complete", "task_complete", "exit_loop"}

func containsStopSignal(output any) bool {
	text := strings.ToLower(textOf(output))
	for _, sig := range stopSignals {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

func (r *run) dependenciesMet(id string, ls *loopState) bool {
	for _, dep := range r.graph.Dependencies[id] {
		if ls != nil && ls.loop.Contains(dep) {
			continue
		}
		if !r.done[dep] {
			return false
		}
	}
	return true
}

func (r *run) enqueue(id string) {
	if r.inQueue[id] || r.done[id] {
		return
	}
	r.inQueue[id] = true
	r.queue = append(r.queue, id)
}

func (r *run) dequeue() string {
	id := r.queue[0]
	r.queue = r.queue[1:]
	r.inQueue[id] = false
	return id
}

// start persists the running status and bootstraps the conversation thread.
func (r *run) start(ctx context.Context) {
	r.engine.logger.Info("workflow execution started",
		slog.String("execution_id", r.rctx.ExecutionID),
		slog.Int("nodes", len(r.graph.Order)))

	if r.engine.store == nil {
		return
	}
	if r.rctx.ThreadID != "" {
		if _, err := r.engine.store.EnsureThread(ctx, &store.Thread{
			ID:        r.rctx.ThreadID,
			AccountID: r.rctx.AccountID,
			Title:     r.def.Name,
		}); err != nil {
			r.engine.logger.Error("ensure thread", slog.String("error", err.Error()))
		}
	}
	if r.rctx.ExecutionID != "" {
		status := schema.ExecutionStatusRunning
		now := time.Now().UTC()
		if err := r.engine.store.UpdateExecution(ctx, r.rctx.ExecutionID, store.ExecutionUpdate{
			Status:    &status,
			StartedAt: &now,
		}); err != nil {
			r.engine.logger.Error("persist running status", slog.String("error", err.Error()))
		}
	}
}

// complete ends the run as a success. Nodes never reached stay pending and
// are reported with the terminal event rather than failing the run.
func (r *run) complete(ctx context.Context) (*Result, error) {
	var pending []string
	for _, id := range r.graph.Order {
		if !r.done[id] {
			pending = append(pending, id)
		}
	}

	r.emitWorkflow(ctx, schema.WorkflowStatusPayload{
		Status:       schema.ExecutionStatusCompleted,
		PendingNodes: pending,
	})
	r.persistTerminal(ctx, schema.ExecutionStatusCompleted, "", pending)

	r.engine.logger.Info("workflow execution completed",
		slog.String("execution_id", r.rctx.ExecutionID),
		slog.Int("completed", len(r.done)),
		slog.Int("pending", len(pending)))

	return &Result{
		ExecutionID:  r.rctx.ExecutionID,
		Status:       schema.ExecutionStatusCompleted,
		Outputs:      r.rctx.Outputs,
		PendingNodes: pending,
		History:      r.rctx.History,
	}, nil
}

// fail ends the run with exactly one failed node_status (when a node was
// executing) and exactly one terminal failed workflow_status.
func (r *run) fail(ctx context.Context, nodeID string, cause error) (*Result, error) {
	if nodeID != "" {
		r.emitNode(ctx, schema.NodeStatusPayload{
			NodeID:   nodeID,
			NodeType: r.graph.Nodes[nodeID].Type,
			Status:   schema.NodeStatusFailed,
			Error:    cause.Error(),
		})
	}
	r.emitWorkflow(ctx, schema.WorkflowStatusPayload{
		Status: schema.ExecutionStatusFailed,
		Error:  cause.Error(),
	})
	r.persistTerminal(ctx, schema.ExecutionStatusFailed, cause.Error(), nil)

	r.engine.logger.Error("workflow execution failed",
		slog.String("execution_id", r.rctx.ExecutionID),
		slog.String("node_id", nodeID),
		slog.String("error", cause.Error()))

	return &Result{
		ExecutionID: r.rctx.ExecutionID,
		Status:      schema.ExecutionStatusFailed,
		Outputs:     r.rctx.Outputs,
		History:     r.rctx.History,
	}, cause
}

func (r *run) persistTerminal(ctx context.Context, status schema.ExecutionStatus, errText string, pending []string) {
	if r.engine.store == nil || r.rctx.ExecutionID == "" {
		return
	}
	now := time.Now().UTC()
	update := store.ExecutionUpdate{
		Status:       &status,
		PendingNodes: pending,
		CompletedAt:  &now,
	}
	if errText != "" {
		update.Error = marshalJSON(errText)
	}
	if status == schema.ExecutionStatusCompleted {
		update.Output = marshalJSON(r.rctx.Outputs)
	}
	if err := r.engine.store.UpdateExecution(ctx, r.rctx.ExecutionID, update); err != nil {
		r.engine.logger.Error("persist terminal status", slog.String("error", err.Error()))
	}
}

func (r *run) persistNodeState(ctx context.Context, state *store.NodeState) {
	if r.engine.store == nil || r.rctx.ExecutionID == "" {
		return
	}
	if err := r.engine.store.UpsertNodeState(ctx, state); err != nil {
		r.engine.logger.Error("persist node state",
			slog.String("node_id", state.NodeID),
			slog.String("error", err.Error()))
	}
}

// --- event emission ---

func (r *run) emitNode(ctx context.Context, payload schema.NodeStatusPayload) {
	r.publish(ctx, streaming.NodeStatusEvent(r.rctx.ExecutionID, payload), payload.NodeID, payload)
}

func (r *run) emitProgress(ctx context.Context, currentNode string) {
	payload := schema.WorkflowProgressPayload{
		CompletedNodes: len(r.done),
		TotalNodes:     len(r.graph.Order),
		CurrentNode:    currentNode,
	}
	r.publish(ctx, streaming.ProgressEvent(r.rctx.ExecutionID, payload), currentNode, payload)
}

func (r *run) emitLoop(ctx context.Context, ls *loopState, phase schema.LoopPhase, forced bool) {
	payload := schema.LoopStatusPayload{
		LoopID:        ls.loop.ID,
		EntryNode:     ls.loop.EntryNode,
		Phase:         phase,
		Iteration:     ls.iteration,
		MaxIterations: ls.loop.MaxIterations,
		ForcedExit:    forced,
	}
	r.publish(ctx, streaming.LoopStatusEvent(r.rctx.ExecutionID, payload), ls.loop.EntryNode, payload)
}

func (r *run) emitWorkflow(ctx context.Context, payload schema.WorkflowStatusPayload) {
	r.publish(ctx, streaming.WorkflowStatusEvent(r.rctx.ExecutionID, payload), "", payload)
}

// publish fans an event out to the live hub and the durable log. Neither is
// allowed to fail the run.
func (r *run) publish(ctx context.Context, event streaming.StreamEvent, nodeID string, payload any) {
	if r.engine.hub != nil {
		if err := r.engine.hub.Publish(ctx, event); err != nil {
			r.engine.logger.Warn("publish event", slog.String("error", err.Error()))
		}
	}
	if r.engine.events != nil && r.rctx.ExecutionID != "" {
		if err := r.engine.events.AppendEvent(ctx, &store.Event{
			ExecutionID: r.rctx.ExecutionID,
			NodeID:      nodeID,
			Type:        event.EventType,
			Payload:     marshalJSON(payload),
		}); err != nil {
			r.engine.logger.Warn("append event", slog.String("error", err.Error()))
		}
	}
}

// --- small helpers ---

func marshalJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func errorJSON(err error) json.RawMessage {
	return marshalJSON(err.Error())
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
		if s, ok := t["prompt"].(string); ok {
			return s
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
