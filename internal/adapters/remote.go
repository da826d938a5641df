package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/log"
	"github.com/mattjoyce/workitems/internal/workitem"
)

// RemoteOptions configure a RemoteAdapter.
type RemoteOptions struct {
	Host      string
	Token     string
	Workspace string
	RunID     string
	Timeout   time.Duration
	Retry     config.RetryConfig
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
	Logger *slog.Logger
}

// RemoteAdapter talks to a work-queue service over HTTP.
type RemoteAdapter struct {
	base      string
	token     string
	workspace string
	runID     string
	retry     config.RetryConfig
	client    *http.Client
	logger    *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ workitem.Adapter = (*RemoteAdapter)(nil)

type reserveResponse struct {
	WorkItemID string `json:"workItemId"`
}

type releaseRequest struct {
	State     workitem.State      `json:"state"`
	Exception *workitem.Exception `json:"exception,omitempty"`
}

type createOutputRequest struct {
	Payload any `json:"payload"`
}

type createdResponse struct {
	ID string `json:"id"`
}

type fileEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRemoteAdapter validates opts and returns an adapter.
func NewRemoteAdapter(opts RemoteOptions) (*RemoteAdapter, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: remote host is not set (RC_API_WORKITEM_HOST)", workitem.ErrConfiguration)
	}
	if opts.Workspace == "" {
		return nil, fmt.Errorf("%w: workspace id is not set (RC_WORKSPACE_ID)", workitem.ErrConfiguration)
	}
	base := opts.Host
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: invalid remote host %q: %v", workitem.ErrConfiguration, opts.Host, err)
	}

	retry := opts.Retry
	if retry.MaxAttempts < 1 {
		retry = config.DefaultRetryConfig()
	}
	runID := opts.RunID
	if runID == "" {
		runID = "default"
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("remote-adapter")
	}

	return &RemoteAdapter{
		base:      strings.TrimRight(base, "/"),
		token:     opts.Token,
		workspace: opts.Workspace,
		runID:     runID,
		retry:     retry,
		client:    client,
		logger:    logger.With(log.Workspace(opts.Workspace)),
		sleep:     sleepContext,
	}, nil
}

func (a *RemoteAdapter) ReserveInput(ctx context.Context) (string, error) {
	path := fmt.Sprintf("/workspaces/%s/runs/%s/reserve", url.PathEscape(a.workspace), url.PathEscape(a.runID))
	status, body, err := a.do(ctx, http.MethodPost, path, "", nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNoContent {
		return "", fmt.Errorf("%w: workspace %s", workitem.ErrEmptyQueue, a.workspace)
	}
	var resp reserveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode reserve response: %w", err)
	}
	if resp.WorkItemID == "" {
		return "", fmt.Errorf("%w: workspace %s", workitem.ErrEmptyQueue, a.workspace)
	}
	return resp.WorkItemID, nil
}

func (a *RemoteAdapter) ReleaseInput(ctx context.Context, id string, state workitem.State, exc *workitem.Exception) error {
	body, err := json.Marshal(releaseRequest{State: state, Exception: exc})
	if err != nil {
		return fmt.Errorf("encode release: %w", err)
	}
	_, _, err = a.do(ctx, http.MethodPost, a.itemPath(id, "release"), "application/json", body)
	return err
}

func (a *RemoteAdapter) CreateOutput(ctx context.Context, parentID string, payload any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(createOutputRequest{Payload: payload})
	if err != nil {
		return "", fmt.Errorf("%w: encode output payload: %v", workitem.ErrStorage, err)
	}
	_, resp, err := a.do(ctx, http.MethodPost, a.itemPath(parentID, "outputs"), "application/json", body)
	if err != nil {
		return "", err
	}
	var created createdResponse
	if err := json.Unmarshal(resp, &created); err != nil {
		return "", fmt.Errorf("decode create output response: %w", err)
	}
	return created.ID, nil
}

func (a *RemoteAdapter) LoadPayload(ctx context.Context, id string) (any, error) {
	_, body, err := a.do(ctx, http.MethodGet, a.itemPath(id, "data"), "", nil)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", id, err)
	}
	return payload, nil
}

func (a *RemoteAdapter) SavePayload(ctx context.Context, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", workitem.ErrStorage, err)
	}
	_, _, err = a.do(ctx, http.MethodPut, a.itemPath(id, "data"), "application/json", body)
	return err
}

func (a *RemoteAdapter) ListFiles(ctx context.Context, id string) ([]string, error) {
	_, body, err := a.do(ctx, http.MethodGet, a.itemPath(id, "files"), "", nil)
	if err != nil {
		return nil, err
	}
	var entries []fileEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode file list of %s: %w", id, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func (a *RemoteAdapter) GetFile(ctx context.Context, id, name string) ([]byte, error) {
	_, body, err := a.do(ctx, http.MethodGet, a.filePath(id, name), "", nil)
	if errors.Is(err, workitem.ErrItemNotFound) {
		return nil, fmt.Errorf("%w: %q in %s", workitem.ErrFileNotFound, name, id)
	}
	return body, err
}

func (a *RemoteAdapter) AddFile(ctx context.Context, id, name string, content []byte) error {
	if err := validateFileName(name); err != nil {
		return err
	}
	_, _, err := a.do(ctx, http.MethodPut, a.filePath(id, name), "application/octet-stream", content)
	return err
}

func (a *RemoteAdapter) RemoveFile(ctx context.Context, id, name string) error {
	_, _, err := a.do(ctx, http.MethodDelete, a.filePath(id, name), "", nil)
	if errors.Is(err, workitem.ErrItemNotFound) {
		return fmt.Errorf("%w: %q in %s", workitem.ErrFileNotFound, name, id)
	}
	return err
}

func (a *RemoteAdapter) itemPath(id, suffix string) string {
	return fmt.Sprintf("/workspaces/%s/work-items/%s/%s", url.PathEscape(a.workspace), url.PathEscape(id), suffix)
}

func (a *RemoteAdapter) filePath(id, name string) string {
	return a.itemPath(id, "files/"+url.PathEscape(name))
}

// do sends the request, retrying transient failures with exponential
// backoff. Non-2xx responses are mapped onto the workitem error set.
func (a *RemoteAdapter) do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	delay := a.retry.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= a.retry.MaxAttempts; attempt++ {
		status, respBody, err := a.once(ctx, method, path, contentType, body)
		if err == nil && status < 300 {
			return status, respBody, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s %s: %w", method, path, err)
		} else {
			lastErr = statusError(method, path, status, respBody)
			if !retryableStatus(status) {
				return status, respBody, lastErr
			}
		}

		if attempt == a.retry.MaxAttempts {
			break
		}
		a.logger.Warn("remote request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		if err := a.sleep(ctx, delay); err != nil {
			return 0, nil, err
		}
		delay *= 2
		if a.retry.MaxBackoff > 0 && delay > a.retry.MaxBackoff {
			delay = a.retry.MaxBackoff
		}
	}
	return 0, nil, fmt.Errorf("giving up after %d attempt(s): %w", a.retry.MaxAttempts, lastErr)
}

func (a *RemoteAdapter) once(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

func statusError(method, path string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var sentinel error
	switch status {
	case http.StatusNotFound:
		sentinel = workitem.ErrItemNotFound
	case http.StatusConflict:
		sentinel = workitem.ErrAlreadyReleased
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = workitem.ErrConfiguration
	default:
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, status, msg)
	}
	return fmt.Errorf("%w: %s %s: HTTP %d: %s", sentinel, method, path, status, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
