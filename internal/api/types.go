package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/workitem"
)

// EnqueueRequest is the JSON body for POST /workspaces/{ws}/work-items and
// POST .../work-items/{id}/outputs.
type EnqueueRequest struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreatedResponse is returned when an item is created.
type CreatedResponse struct {
	ID string `json:"id"`
}

// ReserveResponse is returned by POST /workspaces/{ws}/runs/{run}/reserve.
type ReserveResponse struct {
	WorkItemID string `json:"workItemId"`
}

// ReleaseRequest is the JSON body for POST .../work-items/{id}/release.
type ReleaseRequest struct {
	State     string              `json:"state"`
	Exception *workitem.Exception `json:"exception,omitempty"`
}

// WorkItemResponse describes one stored item.
type WorkItemResponse struct {
	ID         string              `json:"id"`
	Workspace  string              `json:"workspace"`
	Kind       workitem.Kind       `json:"kind"`
	ParentID   *string             `json:"parent_id,omitempty"`
	Status     queue.Status        `json:"status"`
	State      workitem.State      `json:"state"`
	Payload    json.RawMessage     `json:"payload,omitempty"`
	Exception  *workitem.Exception `json:"exception,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	ReservedAt *time.Time          `json:"reserved_at,omitempty"`
	ReleasedAt *time.Time          `json:"released_at,omitempty"`
}

// FileResponse describes one attached file.
type FileResponse struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	EventsDropped int64  `json:"events_dropped"`
}

func itemResponse(it *queue.Item, withPayload bool) WorkItemResponse {
	resp := WorkItemResponse{
		ID:         it.ID,
		Workspace:  it.Workspace,
		Kind:       it.Kind,
		ParentID:   it.ParentID,
		Status:     it.Status,
		State:      stateOf(it.Status),
		Exception:  it.Exception,
		CreatedAt:  it.CreatedAt,
		ReservedAt: it.ReservedAt,
		ReleasedAt: it.ReleasedAt,
	}
	if withPayload {
		resp.Payload = it.Payload
	}
	return resp
}

func stateOf(s queue.Status) workitem.State {
	switch s {
	case queue.StatusDone:
		return workitem.StateDone
	case queue.StatusFailed:
		return workitem.StateFailed
	default:
		return workitem.StateUnprocessed
	}
}
