package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/workitems/internal/workitem"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const itemColumns = `id, workspace, kind, parent_id, payload, status, run_id,
  exception_type, exception_code, exception_message,
  created_at, reserved_at, released_at, updated_at`

type Queue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (q *Queue) stamp() string { return q.now().UTC().Format(timeFormat) }

// Enqueue seeds a pending input item.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Workspace == "" {
		return "", fmt.Errorf("workspace is empty")
	}
	payload, err := objectPayload(req.Payload)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := q.stamp()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO work_items(id, workspace, kind, payload, status, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, id, req.Workspace, workitem.KindInput, payload, StatusPending, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue work item: %w", err)
	}
	return id, nil
}

// Reserve claims the oldest pending input of workspace for runID. Returns
// (nil, nil) if the queue is empty.
func (q *Queue) Reserve(ctx context.Context, workspace, runID string) (*Item, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace is empty")
	}
	now := q.stamp()

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM work_items
  WHERE workspace = ? AND kind = ? AND status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE work_items
SET status = ?, run_id = ?, reserved_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING `+itemColumns+`;
`, workspace, workitem.KindInput, StatusPending, StatusReserved, nullString(runID), now, now)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve work item: %w", err)
	}
	return item, nil
}

// Release moves a reserved input to DONE or FAILED and appends a row to
// work_item_log.
func (q *Queue) Release(ctx context.Context, id string, state workitem.State, exc *workitem.Exception) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	status := StatusForState(state)
	if !status.Released() {
		return fmt.Errorf("invalid release state: %q", state)
	}
	if state == workitem.StateFailed && (exc == nil || exc.Type == "") {
		return workitem.ErrExceptionTypeRequired
	}
	if state == workitem.StateDone {
		exc = nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		workspace  string
		kind       string
		current    string
		runID      sql.NullString
		reservedAt sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
SELECT workspace, kind, status, run_id, reserved_at
FROM work_items
WHERE id = ?;
`, id).Scan(&workspace, &kind, &current, &runID, &reservedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("load work item for release: %w", err)
	}
	if workitem.Kind(kind) != workitem.KindInput {
		return fmt.Errorf("%w: %s is an output item", ErrNotReserved, id)
	}
	switch Status(current) {
	case StatusReserved:
	case StatusDone, StatusFailed:
		return fmt.Errorf("%w: %s is %s", ErrAlreadyReleased, id, current)
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotReserved, id, current)
	}

	releasedAt := q.stamp()
	excType, excCode, excMsg := exceptionColumns(exc)
	_, err = tx.ExecContext(ctx, `
UPDATE work_items
SET status = ?, exception_type = ?, exception_code = ?, exception_message = ?, released_at = ?, updated_at = ?
WHERE id = ?;
`, status, excType, excCode, excMsg, releasedAt, releasedAt, id)
	if err != nil {
		return fmt.Errorf("update work item release: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO work_item_log(
  id, item_id, workspace, run_id, state, exception_type, exception_code, exception_message, reserved_at, released_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), id, workspace, runID, state, excType, excCode, excMsg, reservedAt, releasedAt)
	if err != nil {
		return fmt.Errorf("insert work_item_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateOutput adds an output item under a reserved input.
func (q *Queue) CreateOutput(ctx context.Context, parentID string, payload json.RawMessage) (string, error) {
	parent, err := q.Get(ctx, parentID)
	if err != nil {
		return "", err
	}
	if parent.Kind != workitem.KindInput {
		return "", fmt.Errorf("%w: parent %s is an output item", ErrNotReserved, parentID)
	}
	if parent.Status.Released() {
		return "", fmt.Errorf("%w: parent %s is %s", ErrAlreadyReleased, parentID, parent.Status)
	}
	if parent.Status != StatusReserved {
		return "", fmt.Errorf("%w: parent %s is %s", ErrNotReserved, parentID, parent.Status)
	}
	body, err := objectPayload(payload)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := q.stamp()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO work_items(id, workspace, kind, parent_id, payload, status, run_id, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, parent.Workspace, workitem.KindOutput, parentID, body, StatusCreated, parent.RunID, now, now)
	if err != nil {
		return "", fmt.Errorf("create output work item: %w", err)
	}
	return id, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?;`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// SetPayload replaces the payload of an item that is still mutable.
func (q *Queue) SetPayload(ctx context.Context, id string, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status.Released() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyReleased, id, item.Status)
	}
	_, err = q.db.ExecContext(ctx, `UPDATE work_items SET payload = ?, updated_at = ? WHERE id = ?;`,
		string(payload), q.stamp(), id)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}
	return nil
}

// List returns items in creation order.
func (q *Queue) List(ctx context.Context, f ListFilter) ([]Item, error) {
	var (
		where []string
		args  []any
	)
	if f.Workspace != "" {
		where = append(where, "workspace = ?")
		args = append(args, f.Workspace)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.ParentID != "" {
		where = append(where, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	query := `SELECT ` + itemColumns + ` FROM work_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// Depth counts pending inputs; an empty workspace counts all of them.
func (q *Queue) Depth(ctx context.Context, workspace string) (int, error) {
	query := `SELECT COUNT(*) FROM work_items WHERE kind = ? AND status = ?`
	args := []any{workitem.KindInput, StatusPending}
	if workspace != "" {
		query += " AND workspace = ?"
		args = append(args, workspace)
	}
	var n int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Log returns the release history of an item, oldest first.
func (q *Queue) Log(ctx context.Context, itemID string) ([]LogEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, item_id, workspace, run_id, state, exception_type, exception_code, exception_message, reserved_at, released_at
FROM work_item_log
WHERE item_id = ?
ORDER BY released_at ASC, rowid ASC;
`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query work_item_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LogEntry
	for rows.Next() {
		var (
			e                        LogEntry
			runID                    sql.NullString
			excType, excCode, excMsg sql.NullString
			reservedAt               sql.NullString
			releasedAt               string
			state                    string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Workspace, &runID, &state, &excType, &excCode, &excMsg, &reservedAt, &releasedAt); err != nil {
			return nil, fmt.Errorf("scan work_item_log: %w", err)
		}
		e.State = workitem.State(state)
		e.RunID = stringPtr(runID)
		e.Exception = exceptionFrom(excType, excCode, excMsg)
		e.ReservedAt = timePtr(reservedAt)
		e.ReleasedAt = parseTime(releasedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneReleased deletes released inputs (and their outputs) released before
// cutoff. It returns the ids of every deleted item.
func (q *Queue) PruneReleased(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT id FROM work_items
WHERE id IN (
  SELECT id FROM work_items WHERE kind = ? AND status IN (?, ?) AND released_at < ?
)
OR parent_id IN (
  SELECT id FROM work_items WHERE kind = ? AND status IN (?, ?) AND released_at < ?
);
`, workitem.KindInput, StatusDone, StatusFailed, cutoff.UTC().Format(timeFormat),
		workitem.KindInput, StatusDone, StatusFailed, cutoff.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("select released work items: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan released work item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?;`, id); err != nil {
			return nil, fmt.Errorf("delete work item %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it                       Item
		kind                     string
		status                   string
		payload                  sql.NullString
		parentID, runID          sql.NullString
		excType, excCode, excMsg sql.NullString
		createdAt, updatedAt     string
		reservedAt, releasedAt   sql.NullString
	)
	if err := row.Scan(
		&it.ID, &it.Workspace, &kind, &parentID, &payload, &status, &runID,
		&excType, &excCode, &excMsg,
		&createdAt, &reservedAt, &releasedAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	it.Kind = workitem.Kind(kind)
	it.Status = Status(status)
	if payload.Valid {
		it.Payload = json.RawMessage(payload.String)
	}
	it.ParentID = stringPtr(parentID)
	it.RunID = stringPtr(runID)
	it.Exception = exceptionFrom(excType, excCode, excMsg)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	it.ReservedAt = timePtr(reservedAt)
	it.ReleasedAt = timePtr(releasedAt)
	return &it, nil
}

// objectPayload defaults an empty payload to {} and rejects invalid JSON.
func objectPayload(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("payload is not valid JSON")
	}
	return string(payload), nil
}

func exceptionColumns(exc *workitem.Exception) (any, any, any) {
	if exc == nil {
		return nil, nil, nil
	}
	return string(exc.Type), nullString(exc.Code), nullString(exc.Message)
}

func exceptionFrom(typ, code, msg sql.NullString) *workitem.Exception {
	if !typ.Valid || typ.String == "" {
		return nil
	}
	return &workitem.Exception{Type: workitem.ExceptionType(typ.String), Code: code.String, Message: msg.String}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}
