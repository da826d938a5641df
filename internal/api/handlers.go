package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/workitems/internal/events"
	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/workitem"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	v, err, _ := s.depth.Do("depth", func() (any, error) {
		return s.queue.Depth(r.Context(), "")
	})
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    v.(int),
		EventsDropped: s.events.Dropped(),
	})
}

// handleEnqueue handles POST /workspaces/{ws}/work-items.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "ws")
	var req EnqueueRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{Workspace: ws, Payload: req.Payload})
	if err != nil {
		s.writeQueueError(w, err, "enqueue work item")
		return
	}

	s.events.Publish(events.ItemEnqueued, ws, id, map[string]string{"workspace": ws, "id": id})
	respondJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// handleListItems handles GET /workspaces/{ws}/work-items?state=&kind=&limit=.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	filter := queue.ListFilter{Workspace: chi.URLParam(r, "ws")}
	query := r.URL.Query()
	if v := query.Get("state"); v != "" {
		status, err := queue.ParseStatus(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	switch kind := workitem.Kind(query.Get("kind")); kind {
	case "", workitem.KindInput, workitem.KindOutput:
		filter.Kind = kind
	default:
		s.writeError(w, http.StatusBadRequest, "kind must be input or output")
		return
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	items, err := s.queue.List(r.Context(), filter)
	if err != nil {
		s.writeQueueError(w, err, "list work items")
		return
	}
	out := make([]WorkItemResponse, 0, len(items))
	for i := range items {
		out = append(out, itemResponse(&items[i], false))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetItem handles GET /workspaces/{ws}/work-items/{id}.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, itemResponse(item, true))
}

// handleReserve handles POST /workspaces/{ws}/runs/{run}/reserve.
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "ws")
	run := chi.URLParam(r, "run")

	item, err := s.queue.Reserve(r.Context(), ws, run)
	if err != nil {
		s.writeQueueError(w, err, "reserve work item")
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.events.Publish(events.ItemReserved, ws, item.ID, map[string]string{"workspace": ws, "id": item.ID, "run": run})
	respondJSON(w, http.StatusOK, ReserveResponse{WorkItemID: item.ID})
}

// handleRelease handles POST /workspaces/{ws}/work-items/{id}/release.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	var req ReleaseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	state, err := workitem.ParseState(req.State)
	if err != nil || state == workitem.StateUnprocessed {
		s.writeError(w, http.StatusBadRequest, "state must be DONE or FAILED")
		return
	}
	if req.Exception != nil {
		typ, err := workitem.ParseExceptionType(string(req.Exception.Type))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Exception.Type = typ
	}

	if err := s.queue.Release(r.Context(), item.ID, state, req.Exception); err != nil {
		s.writeQueueError(w, err, "release work item")
		return
	}

	s.events.Publish(events.ItemReleased, item.Workspace, item.ID, map[string]any{
		"workspace": item.Workspace,
		"id":        item.ID,
		"state":     state,
		"exception": req.Exception,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateOutput handles POST /workspaces/{ws}/work-items/{id}/outputs.
func (s *Server) handleCreateOutput(w http.ResponseWriter, r *http.Request) {
	parent, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	var req EnqueueRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.queue.CreateOutput(r.Context(), parent.ID, req.Payload)
	if err != nil {
		s.writeQueueError(w, err, "create output work item")
		return
	}

	s.events.Publish(events.OutputCreated, parent.Workspace, parent.ID, map[string]string{"workspace": parent.Workspace, "id": id, "parent_id": parent.ID})
	respondJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// handleGetData handles GET /workspaces/{ws}/work-items/{id}/data.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handlePutData handles PUT /workspaces/{ws}/work-items/{id}/data.
func (s *Server) handlePutData(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	if err := s.queue.SetPayload(r.Context(), item.ID, body); err != nil {
		s.writeQueueError(w, err, "save payload")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListFiles handles GET /workspaces/{ws}/work-items/{id}/files.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	files, err := s.queue.ListFiles(r.Context(), item.ID)
	if err != nil {
		s.writeQueueError(w, err, "list files")
		return
	}
	out := make([]FileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, FileResponse{Name: f.Name, Size: f.Size, Digest: f.Digest})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetFile handles GET /workspaces/{ws}/work-items/{id}/files/{name}.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	name, ok := s.fileName(w, r)
	if !ok {
		return
	}

	info, err := s.queue.GetFile(r.Context(), item.ID, name)
	if err != nil {
		s.writeQueueError(w, err, "get file")
		return
	}
	rc, err := s.blobs.Open(r.Context(), item.ID, name)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("indexed file missing from files directory", "item_id", item.ID, "file", name)
		s.writeError(w, http.StatusNotFound, "work item file not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to open file", "item_id", item.ID, "file", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("X-Content-Digest", info.Digest)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// handlePutFile handles PUT /workspaces/{ws}/work-items/{id}/files/{name}.
func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	name, ok := s.fileName(w, r)
	if !ok {
		return
	}
	if item.Status.Released() {
		s.writeError(w, http.StatusConflict, "work item already released")
		return
	}

	blob, err := s.blobs.Put(r.Context(), item.ID, name, http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.logger.Error("failed to store file", "item_id", item.ID, "file", name, "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.PutFile(r.Context(), item.ID, name, blob.Size, blob.Digest); err != nil {
		_ = s.blobs.Remove(r.Context(), item.ID, name)
		s.writeQueueError(w, err, "index file")
		return
	}

	s.events.Publish(events.FileAdded, item.Workspace, item.ID, map[string]any{"workspace": item.Workspace, "id": item.ID, "name": name, "size": blob.Size})
	respondJSON(w, http.StatusCreated, FileResponse{Name: blob.Name, Size: blob.Size, Digest: blob.Digest})
}

// handleDeleteFile handles DELETE /workspaces/{ws}/work-items/{id}/files/{name}.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadItem(w, r)
	if !ok {
		return
	}
	name, ok := s.fileName(w, r)
	if !ok {
		return
	}

	if err := s.queue.RemoveFile(r.Context(), item.ID, name); err != nil {
		s.writeQueueError(w, err, "remove file")
		return
	}
	if err := s.blobs.Remove(r.Context(), item.ID, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to delete file blob", "item_id", item.ID, "file", name, "error", err)
	}

	s.events.Publish(events.FileRemoved, item.Workspace, item.ID, map[string]string{"workspace": item.Workspace, "id": item.ID, "name": name})
	w.WriteHeader(http.StatusNoContent)
}

// loadItem resolves {id} and checks it belongs to {ws}.
func (s *Server) loadItem(w http.ResponseWriter, r *http.Request) (*queue.Item, bool) {
	id := chi.URLParam(r, "id")
	item, err := s.queue.Get(r.Context(), id)
	if err != nil {
		s.writeQueueError(w, err, "load work item")
		return nil, false
	}
	if item.Workspace != chi.URLParam(r, "ws") {
		s.writeError(w, http.StatusNotFound, "work item not found")
		return nil, false
	}
	return item, true
}

func (s *Server) fileName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid file name")
			return "", false
		}
		name = unescaped
	}
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "file name is empty")
		return "", false
	}
	return name, true
}

// decodeBody decodes an optional JSON body into dst.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeQueueError maps queue errors onto HTTP statuses.
func (s *Server) writeQueueError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, queue.ErrItemNotFound), errors.Is(err, queue.ErrFileNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrAlreadyReleased), errors.Is(err, queue.ErrNotReserved):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workitem.ErrExceptionTypeRequired):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("failed to "+action, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
