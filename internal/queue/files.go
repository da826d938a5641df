package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PutFile records a blob attached to itemID, replacing an existing entry
// with the same name.
func (q *Queue) PutFile(ctx context.Context, itemID, name string, size int64, digest string) error {
	item, err := q.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status.Released() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyReleased, itemID, item.Status)
	}
	_, err = q.db.ExecContext(ctx, `
INSERT INTO work_item_files(item_id, name, size, digest, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(item_id, name) DO UPDATE SET size = excluded.size, digest = excluded.digest, created_at = excluded.created_at;
`, itemID, name, size, digest, q.stamp())
	if err != nil {
		return fmt.Errorf("index work item file: %w", err)
	}
	return nil
}

// RemoveFile drops the index entry for name.
func (q *Queue) RemoveFile(ctx context.Context, itemID, name string) error {
	item, err := q.Get(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status.Released() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyReleased, itemID, item.Status)
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM work_item_files WHERE item_id = ? AND name = ?;`, itemID, name)
	if err != nil {
		return fmt.Errorf("remove work item file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q in %s", ErrFileNotFound, name, itemID)
	}
	return nil
}

// ListFiles returns the files of itemID sorted by name.
func (q *Queue) ListFiles(ctx context.Context, itemID string) ([]FileInfo, error) {
	if _, err := q.Get(ctx, itemID); err != nil {
		return nil, err
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT item_id, name, size, digest, created_at
FROM work_item_files
WHERE item_id = ?
ORDER BY name ASC;
`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list work item files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []FileInfo{}
	for rows.Next() {
		var (
			f         FileInfo
			createdAt string
		)
		if err := rows.Scan(&f.ItemID, &f.Name, &f.Size, &f.Digest, &createdAt); err != nil {
			return nil, fmt.Errorf("scan work item file: %w", err)
		}
		f.CreatedAt = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFile returns the index entry for name.
func (q *Queue) GetFile(ctx context.Context, itemID, name string) (*FileInfo, error) {
	var (
		f         FileInfo
		createdAt string
	)
	err := q.db.QueryRowContext(ctx, `
SELECT item_id, name, size, digest, created_at
FROM work_item_files
WHERE item_id = ? AND name = ?;
`, itemID, name).Scan(&f.ItemID, &f.Name, &f.Size, &f.Digest, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q in %s", ErrFileNotFound, name, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get work item file: %w", err)
	}
	f.CreatedAt = parseTime(createdAt)
	return &f, nil
}
