package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/cascadehq/cascade/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

const executionColumns = `id, workflow_id, account_id, thread_id, definition, status, variables, output, error, pending_nodes, created_at, started_at, completed_at, updated_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *WorkflowExecution) error {
	def, err := json.Marshal(exec.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	vars, err := marshalStringMapOrDefault(exec.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	pending, err := marshalSliceOrNil(exec.PendingNodes)
	if err != nil {
		return fmt.Errorf("marshal pending_nodes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, nullStr(exec.WorkflowID), exec.AccountID, nullStr(exec.ThreadID),
		string(def), string(exec.Status), string(vars),
		nullRaw(exec.Output), nullRaw(exec.Error), nullRaw(pending),
		timeOrNow(exec.CreatedAt), nullTime(exec.StartedAt), nullTime(exec.CompletedAt), timeOrNow(exec.UpdatedAt),
	)
	return err
}

func scanExecution(scan func(dest ...any) error) (*WorkflowExecution, error) {
	exec := &WorkflowExecution{}
	var (
		workflowID, threadID   sql.NullString
		defJSON, varsJSON      string
		outputJSON, errorJSON  sql.NullString
		pendingJSON            sql.NullString
		startedAt, completedAt sql.NullTime
		status                 string
	)
	err := scan(&exec.ID, &workflowID, &exec.AccountID, &threadID, &defJSON, &status,
		&varsJSON, &outputJSON, &errorJSON, &pendingJSON,
		&exec.CreatedAt, &startedAt, &completedAt, &exec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	exec.WorkflowID = workflowID.String
	exec.ThreadID = threadID.String
	exec.Status = schema.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(defJSON), &exec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if varsJSON != "" {
		_ = json.Unmarshal([]byte(varsJSON), &exec.Variables)
	}
	exec.Output = rawOrNil(outputJSON)
	exec.Error = rawOrNil(errorJSON)
	if pendingJSON.Valid && pendingJSON.String != "" {
		_ = json.Unmarshal([]byte(pendingJSON.String), &exec.PendingNodes)
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.PendingNodes != nil {
		pending, err := json.Marshal(update.PendingNodes)
		if err != nil {
			return fmt.Errorf("marshal pending_nodes: %w", err)
		}
		sets = append(sets, "pending_nodes = ?")
		args = append(args, string(pending))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*WorkflowExecution, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

func (s *LibSQLStore) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this execution
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload := nullRaw(event.Payload)
	ts := timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.NodeID), event.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, execution_id, node_id, event_type, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Node state ---

func (s *LibSQLStore) UpsertNodeState(ctx context.Context, state *NodeState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_state (execution_id, node_id, node_type, status, input, output, error, iteration, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id, node_id) DO UPDATE SET
		   node_type=excluded.node_type, status=excluded.status, input=excluded.input,
		   output=excluded.output, error=excluded.error, iteration=excluded.iteration,
		   started_at=excluded.started_at, completed_at=excluded.completed_at,
		   duration_ms=excluded.duration_ms`,
		state.ExecutionID, state.NodeID, string(state.NodeType), string(state.Status),
		nullRaw(state.Input), nullRaw(state.Output), nullRaw(state.Error),
		state.Iteration, nullTime(state.StartedAt), nullTime(state.CompletedAt), state.DurationMs,
	)
	return err
}

func (s *LibSQLStore) GetNodeState(ctx context.Context, executionID, nodeID string) (*NodeState, error) {
	ns := &NodeState{}
	var nodeType, status string
	var input, output, errJSON sql.NullString
	var startedAt, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_id, node_id, node_type, status, input, output, error, iteration, started_at, completed_at, duration_ms
		 FROM node_state WHERE execution_id = ? AND node_id = ?`, executionID, nodeID,
	).Scan(&ns.ExecutionID, &ns.NodeID, &nodeType, &status, &input, &output, &errJSON,
		&ns.Iteration, &startedAt, &completedAt, &ns.DurationMs)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("node_state", executionID+"/"+nodeID)
	}
	if err != nil {
		return nil, err
	}
	ns.NodeType = schema.NodeType(nodeType)
	ns.Status = schema.NodeStatus(status)
	ns.Input = rawOrNil(input)
	ns.Output = rawOrNil(output)
	ns.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		ns.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ns.CompletedAt = &completedAt.Time
	}
	return ns, nil
}

func (s *LibSQLStore) ListNodeStates(ctx context.Context, executionID string) ([]*NodeState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, node_id, node_type, status, input, output, error, iteration, started_at, completed_at, duration_ms
		 FROM node_state WHERE execution_id = ?`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*NodeState
	for rows.Next() {
		ns := &NodeState{}
		var nodeType, status string
		var input, output, errJSON sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&ns.ExecutionID, &ns.NodeID, &nodeType, &status, &input, &output, &errJSON,
			&ns.Iteration, &startedAt, &completedAt, &ns.DurationMs); err != nil {
			return nil, err
		}
		ns.NodeType = schema.NodeType(nodeType)
		ns.Status = schema.NodeStatus(status)
		ns.Input = rawOrNil(input)
		ns.Output = rawOrNil(output)
		ns.Error = rawOrNil(errJSON)
		if startedAt.Valid {
			ns.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			ns.CompletedAt = &completedAt.Time
		}
		states = append(states, ns)
	}
	return states, rows.Err()
}

// --- Threads ---

func (s *LibSQLStore) EnsureThread(ctx context.Context, thread *Thread) (*Thread, error) {
	if thread.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "thread ID is required")
	}
	existing, err := s.GetThread(ctx, thread.ID)
	if err == nil {
		return existing, nil
	}
	if schema.CodeOf(err) != schema.ErrCodeNotFound {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, account_id, title, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		thread.ID, thread.AccountID, nullStr(thread.Title), timeOrNow(thread.CreatedAt),
	)
	if err != nil {
		return nil, err
	}
	return s.GetThread(ctx, thread.ID)
}

func (s *LibSQLStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	th := &Thread{}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, title, created_at FROM threads WHERE id = ?`, id,
	).Scan(&th.ID, &th.AccountID, &title, &th.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("thread", id)
	}
	if err != nil {
		return nil, err
	}
	th.Title = title.String
	return th, nil
}

// --- Credentials ---

func (s *LibSQLStore) StoreCredential(ctx context.Context, cred *Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (account_id, qualified_name, profile_id, value, created_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(account_id, qualified_name, profile_id) DO UPDATE SET
		   value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		cred.AccountID, cred.QualifiedName, cred.ProfileID, cred.Value,
	)
	return err
}

func (s *LibSQLStore) GetCredential(ctx context.Context, accountID, qualifiedName, profileID string) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, qualified_name, profile_id, value, created_at
		 FROM credentials WHERE account_id = ? AND qualified_name = ? AND profile_id = ?`,
		accountID, qualifiedName, profileID,
	).Scan(&c.AccountID, &c.QualifiedName, &c.ProfileID, &c.Value, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", accountID+"/"+qualifiedName)
	}
	return c, err
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, accountID, qualifiedName, profileID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE account_id = ? AND qualified_name = ? AND profile_id = ?`,
		accountID, qualifiedName, profileID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential", accountID+"/"+qualifiedName)
}

func (s *LibSQLStore) ListCredentials(ctx context.Context, accountID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, qualified_name, profile_id, value, created_at
		 FROM credentials WHERE account_id = ? ORDER BY qualified_name, profile_id`, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		c := &Credential{}
		if err := rows.Scan(&c.AccountID, &c.QualifiedName, &c.ProfileID, &c.Value, &c.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CascadeError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalStringMapOrDefault(m map[string]string) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalSliceOrNil(s []string) (json.RawMessage, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}
