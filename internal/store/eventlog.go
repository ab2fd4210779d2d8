package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cascadehq/cascade/pkg/schema"
)

// EventLog provides event-log operations on top of a LibSQLStore. Every live
// stream event is also appended here so a run can be audited after the
// subscriber channels are gone.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-log operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. Uses an immediate write inside the transaction to hold the write
// lock across the sequence read.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone may start a deferred transaction. Force lock
	// acquisition with a write-intent statement before reading the sequence.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload := nullRaw(event.Payload)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.NodeID), event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by
// sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ReplayNodeStates replays all events for an execution and returns the
// reconstructed node states. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayNodeStates(ctx context.Context, executionID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*NodeState), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeState)

	for _, e := range events {
		if e.NodeID == "" || e.Type != schema.EventNodeStatus {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{
				ExecutionID: executionID,
				NodeID:      e.NodeID,
				Status:      schema.NodeStatusPending,
			}
			states[e.NodeID] = ns
		}

		var payload schema.NodeStatusPayload
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				continue
			}
		}

		switch payload.Status {
		case schema.NodeStatusRunning:
			ns.Status = schema.NodeStatusRunning
			ns.NodeType = payload.NodeType
			ts := e.Timestamp
			ns.StartedAt = &ts
			// Each running event is a fresh attempt (loop members run once per iteration).
			ns.Iteration++

		case schema.NodeStatusCompleted:
			ns.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			ns.CompletedAt = &ts
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}

		case schema.NodeStatusFailed:
			ns.Status = schema.NodeStatusFailed

		case schema.NodeStatusSkipped:
			ns.Status = schema.NodeStatusSkipped
		}
	}

	return states, nil
}
