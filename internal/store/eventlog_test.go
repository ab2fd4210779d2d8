package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	for i := 0; i < 5; i++ {
		e := &Event{
			ExecutionID: exec.ID,
			NodeID:      "n1",
			Type:        schema.EventNodeStatus,
		}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
	}
}

func TestEventLog_SequenceIsPerExecution(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	e1 := seedExecution(t, s)
	e2 := seedExecution(t, s)

	a := &Event{ExecutionID: e1.ID, Type: schema.EventWorkflowStatus}
	require.NoError(t, el.AppendEvent(ctx, a))
	b := &Event{ExecutionID: e2.ID, Type: schema.EventWorkflowStatus}
	require.NoError(t, el.AppendEvent(ctx, b))

	assert.Equal(t, int64(1), a.Sequence)
	assert.Equal(t, int64(1), b.Sequence)
}

func TestEventLog_GetEvents_Since(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	for i := 0; i < 4; i++ {
		require.NoError(t, el.AppendEvent(ctx, &Event{
			ExecutionID: exec.ID,
			NodeID:      "n1",
			Type:        schema.EventNodeStatus,
		}))
	}

	events, err := el.GetEvents(ctx, exec.ID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].Sequence)
	assert.Equal(t, int64(4), events[1].Sequence)
}

func TestEventLog_GetEventsByType(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	for _, et := range []string{schema.EventNodeStatus, schema.EventWorkflowProgress, schema.EventNodeStatus} {
		require.NoError(t, el.AppendEvent(ctx, &Event{
			ExecutionID: exec.ID,
			NodeID:      "n1",
			Type:        et,
		}))
	}

	events, err := el.GetEventsByType(ctx, schema.EventNodeStatus, EventFilter{ExecutionID: exec.ID})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventLog_ReplayNodeStates(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	append := func(nodeID string, status schema.NodeStatus, nodeType schema.NodeType) {
		t.Helper()
		require.NoError(t, el.AppendEvent(ctx, &Event{
			ExecutionID: exec.ID,
			NodeID:      nodeID,
			Type:        schema.EventNodeStatus,
			Payload: mustPayload(t, schema.NodeStatusPayload{
				NodeID:   nodeID,
				NodeType: nodeType,
				Status:   status,
			}),
		}))
	}

	append("a", schema.NodeStatusRunning, schema.NodeTypeInput)
	append("a", schema.NodeStatusCompleted, schema.NodeTypeInput)
	append("b", schema.NodeStatusRunning, schema.NodeTypeTool)
	append("b", schema.NodeStatusFailed, schema.NodeTypeTool)

	states, err := el.ReplayNodeStates(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.Equal(t, schema.NodeStatusCompleted, states["a"].Status)
	assert.Equal(t, schema.NodeTypeInput, states["a"].NodeType)
	assert.Equal(t, 1, states["a"].Iteration)
	assert.Equal(t, schema.NodeStatusFailed, states["b"].Status)
}

func TestEventLog_ReplayNodeStates_CountsIterations(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	for i := 0; i < 3; i++ {
		for _, status := range []schema.NodeStatus{schema.NodeStatusRunning, schema.NodeStatusCompleted} {
			require.NoError(t, el.AppendEvent(ctx, &Event{
				ExecutionID: exec.ID,
				NodeID:      "loop-body",
				Type:        schema.EventNodeStatus,
				Payload: mustPayload(t, schema.NodeStatusPayload{
					NodeID:   "loop-body",
					NodeType: schema.NodeTypeAgent,
					Status:   status,
				}),
			}))
		}
	}

	states, err := el.ReplayNodeStates(ctx, exec.ID)
	require.NoError(t, err)
	require.Contains(t, states, "loop-body")
	assert.Equal(t, 3, states["loop-body"].Iteration)
	assert.Equal(t, schema.NodeStatusCompleted, states["loop-body"].Status)
}

func TestEventLog_ReplayNodeStates_Empty(t *testing.T) {
	el, s := newTestEventLog(t)
	exec := seedExecution(t, s)

	states, err := el.ReplayNodeStates(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestEventLog_ReplayNodeStates_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{
		ExecutionID: exec.ID,
		NodeID:      "a",
		Type:        schema.EventNodeStatus,
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		ExecutionID: exec.ID,
		NodeID:      "a",
		Type:        schema.EventNodeStatus,
	}))

	// Punch a hole in the sequence.
	_, err := s.DB().ExecContext(ctx, `DELETE FROM events WHERE execution_id = ? AND sequence = 1`, exec.ID)
	require.NoError(t, err)

	_, err = el.ReplayNodeStates(ctx, exec.ID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.CodeOf(err))
}

func TestEventLog_ConcurrentAppend(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- el.AppendEvent(ctx, &Event{
					ExecutionID: exec.ID,
					NodeID:      "n1",
					Type:        schema.EventNodeStatus,
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := el.GetEvents(ctx, exec.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)

	// Sequences must be contiguous with no duplicates.
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_TimestampDefaulted(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	exec := seedExecution(t, s)

	e := &Event{ExecutionID: exec.ID, Type: schema.EventWorkflowStatus}
	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, el.AppendEvent(ctx, e))
	assert.True(t, e.Timestamp.After(before))
}
