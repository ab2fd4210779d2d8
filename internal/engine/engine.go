package engine

import (
	"context"
	"log/slog"

	"github.com/cascadehq/cascade/internal/expressions"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/nodes"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/streaming"
	"github.com/cascadehq/cascade/pkg/schema"
)

// ExecutionStore is the subset of persistence the interpreter needs. It is
// satisfied by store.Store; tests supply small fakes.
type ExecutionStore interface {
	UpdateExecution(ctx context.Context, id string, update store.ExecutionUpdate) error
	UpsertNodeState(ctx context.Context, state *store.NodeState) error
	EnsureThread(ctx context.Context, thread *store.Thread) (*store.Thread, error)
}

// EventAppender persists stream events to the durable event log.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Options configures an Engine. Store, Events, and Hub are optional; a nil
// collaborator disables that concern.
type Options struct {
	Registry *nodes.Registry
	Store    ExecutionStore
	Events   EventAppender
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// RunOptions identifies one execution of a definition.
type RunOptions struct {
	ExecutionID string
	AccountID   string
	ThreadID    string
	Variables   map[string]string // merged over the definition's variables
}

// Engine executes workflow definitions. One Engine serves many concurrent
// runs; each run owns its own Context, queue, and completed set.
type Engine struct {
	registry *nodes.Registry
	cel      *expressions.CELEngine
	store    ExecutionStore
	events   EventAppender
	hub      streaming.EventHub
	logger   *slog.Logger
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		opts.Registry = nodes.NewRegistry(nodes.Dependencies{Logger: opts.Logger})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		registry: opts.Registry,
		cel:      cel,
		store:    opts.Store,
		events:   opts.Events,
		hub:      opts.Hub,
		logger:   opts.Logger,
	}, nil
}

// Execute runs a workflow definition to a terminal state. Graph validation
// and loop detection happen before any node executes; their failures abort
// the run without node events. A node failure produces exactly one failed
// node_status event and one terminal failed workflow_status event.
func (e *Engine) Execute(ctx context.Context, def *schema.WorkflowDefinition, opts RunOptions) (*Result, error) {
	g, err := graph.Build(def.Nodes, def.Edges)
	if err != nil {
		return e.abortBeforeRun(ctx, opts.ExecutionID, err)
	}
	loops, err := graph.DetectLoops(g)
	if err != nil {
		return e.abortBeforeRun(ctx, opts.ExecutionID, err)
	}

	r := newRun(e, g, loops, def, opts)
	return r.execute(ctx)
}

// abortBeforeRun marks an execution failed for errors raised before
// interpretation starts.
func (e *Engine) abortBeforeRun(ctx context.Context, executionID string, cause error) (*Result, error) {
	e.logger.Error("workflow rejected before execution",
		slog.String("execution_id", executionID),
		slog.String("error", cause.Error()))

	if e.store != nil && executionID != "" {
		status := schema.ExecutionStatusFailed
		if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
			Status: &status,
			Error:  errorJSON(cause),
		}); err != nil {
			e.logger.Error("persist failed status", slog.String("error", err.Error()))
		}
	}
	return &Result{
		ExecutionID: executionID,
		Status:      schema.ExecutionStatusFailed,
	}, cause
}
