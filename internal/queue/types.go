package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/workitems/internal/workitem"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusReserved Status = "reserved"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	// StatusCreated marks output items; they are never reserved.
	StatusCreated Status = "created"
)

// ParseStatus accepts queue statuses and work item states (DONE, FAILED,
// UNPROCESSED).
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusReserved, StatusDone, StatusFailed, StatusCreated:
		return st, nil
	}
	state, err := workitem.ParseState(s)
	if err != nil || s == "" {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return StatusForState(state), nil
}

// StatusForState maps a work item state onto the queue status it is stored as.
func StatusForState(state workitem.State) Status {
	switch state {
	case workitem.StateDone:
		return StatusDone
	case workitem.StateFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Released reports whether the status is terminal.
func (s Status) Released() bool { return s == StatusDone || s == StatusFailed }

type Item struct {
	ID         string
	Workspace  string
	Kind       workitem.Kind
	ParentID   *string
	Payload    json.RawMessage
	Status     Status
	RunID      *string
	Exception  *workitem.Exception
	CreatedAt  time.Time
	ReservedAt *time.Time
	ReleasedAt *time.Time
	UpdatedAt  time.Time
}

type EnqueueRequest struct {
	Workspace string
	Payload   json.RawMessage
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Workspace string
	Status    Status
	Kind      workitem.Kind
	ParentID  string
	Limit     int
}

// FileInfo indexes one blob attached to an item.
type FileInfo struct {
	ItemID    string
	Name      string
	Size      int64
	Digest    string
	CreatedAt time.Time
}

// LogEntry is one release recorded in work_item_log.
type LogEntry struct {
	ID         string
	ItemID     string
	Workspace  string
	RunID      *string
	State      workitem.State
	Exception  *workitem.Exception
	ReservedAt *time.Time
	ReleasedAt time.Time
}

var (
	ErrItemNotFound    = errors.New("work item not found")
	ErrFileNotFound    = errors.New("work item file not found")
	ErrAlreadyReleased = errors.New("work item already released")
	ErrNotReserved     = errors.New("work item is not reserved")
	ErrEmptyQueue      = errors.New("no pending work items")
)
