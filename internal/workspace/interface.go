package workspace

import (
	"context"
	"io"
	"time"
)

// Blob describes one stored work item file.
type Blob struct {
	Name   string
	Size   int64
	Digest string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
	KeptDirs    int
}

// Store keeps the file attachments of work items, one directory per item.
//
// SQLite indexes name, size and digest; bytes live only here so the files
// directory can move without DB rewrites.
type Store interface {
	// Put streams r into itemID/name, replacing any previous content.
	Put(ctx context.Context, itemID, name string, r io.Reader) (Blob, error)

	// Open returns a reader for itemID/name. Missing files wrap fs.ErrNotExist.
	Open(ctx context.Context, itemID, name string) (io.ReadCloser, error)

	Remove(ctx context.Context, itemID, name string) error

	// List returns the blobs of itemID sorted by name.
	List(ctx context.Context, itemID string) ([]Blob, error)

	// RemoveItem deletes every blob of itemID.
	RemoveItem(ctx context.Context, itemID string) error

	// Cleanup removes item directories untouched for longer than olderThan.
	// Directories for which keep returns true survive; a nil keep removes
	// every stale directory.
	Cleanup(ctx context.Context, olderThan time.Duration, keep func(itemID string) bool) (CleanupReport, error)
}
