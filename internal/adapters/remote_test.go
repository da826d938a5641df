package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workitems/internal/api"
	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/log"
	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/storage"
	"github.com/mattjoyce/workitems/internal/workitem"
	"github.com/mattjoyce/workitems/internal/workspace"
)

const testToken = "secret-token"

var quietLogger = log.Discard()

var fastRetry = config.RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newQueueServer(t *testing.T, wrap func(http.Handler) http.Handler) (*httptest.Server, *queue.Queue) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "workitems.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	blobs, err := workspace.NewFSStore(filepath.Join(dir, "files"))
	require.NoError(t, err)

	q := queue.New(db)
	var h http.Handler = api.New(api.Config{APIKey: testToken}, q, blobs, nil, quietLogger).Handler()
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, q
}

func newTestRemote(t *testing.T, host string) *RemoteAdapter {
	t.Helper()
	a, err := NewRemoteAdapter(RemoteOptions{
		Host:      host,
		Token:     testToken,
		Workspace: "acme",
		RunID:     "run-7",
		Retry:     fastRetry,
		Logger:    quietLogger,
	})
	require.NoError(t, err)
	return a
}

func TestRemoteAdapterRoundTrip(t *testing.T) {
	srv, q := newQueueServer(t, nil)
	ctx := context.Background()
	inputID, err := q.Enqueue(ctx, queue.EnqueueRequest{Workspace: "acme", Payload: []byte(`{"user":"Dude"}`)})
	require.NoError(t, err)

	lib := workitem.New(newTestRemote(t, srv.URL), workitem.Options{AutoRelease: true, Logger: quietLogger})

	input, err := lib.GetInputWorkItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, inputID, input.ID())
	user, err := input.GetVariable("user")
	require.NoError(t, err)
	assert.Equal(t, "Dude", user)

	src := filepath.Join(t.TempDir(), "summary.txt")
	require.NoError(t, os.WriteFile(src, []byte("all good"), 0o644))
	output, err := lib.CreateOutputWorkItem(ctx, map[string]any{"processed": true}, []string{src}, true)
	require.NoError(t, err)

	stored, err := q.Get(ctx, output.ID())
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed":true}`, string(stored.Payload))
	files, err := q.ListFiles(ctx, output.ID())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "summary.txt", files[0].Name)

	// reload from the server to exercise GetFile
	require.NoError(t, output.Load(ctx))
	dst, err := output.GetFile(ctx, "summary.txt", filepath.Join(t.TempDir(), "copy.txt"))
	require.NoError(t, err)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "all good", string(content))

	require.NoError(t, lib.ReleaseInputWorkItem(ctx, workitem.StateFailed,
		&workitem.Exception{Type: workitem.ExceptionApplication, Code: "TIMEOUT", Message: "portal down"}))

	released, err := q.Get(ctx, inputID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, released.Status)
	require.NotNil(t, released.Exception)
	assert.Equal(t, "TIMEOUT", released.Exception.Code)
	require.NotNil(t, released.RunID)
	assert.Equal(t, "run-7", *released.RunID)

	_, err = lib.GetInputWorkItem(ctx)
	assert.ErrorIs(t, err, workitem.ErrEmptyQueue)
}

func TestRemoteAdapterErrorMapping(t *testing.T) {
	srv, q := newQueueServer(t, nil)
	ctx := context.Background()
	a := newTestRemote(t, srv.URL)

	_, err := a.LoadPayload(ctx, "missing")
	assert.ErrorIs(t, err, workitem.ErrItemNotFound)

	id, err := q.Enqueue(ctx, queue.EnqueueRequest{Workspace: "acme"})
	require.NoError(t, err)
	reserved, err := a.ReserveInput(ctx)
	require.NoError(t, err)
	require.Equal(t, id, reserved)

	require.NoError(t, a.ReleaseInput(ctx, id, workitem.StateDone, nil))
	err = a.ReleaseInput(ctx, id, workitem.StateDone, nil)
	assert.ErrorIs(t, err, workitem.ErrAlreadyReleased)

	_, err = a.GetFile(ctx, id, "nothing.bin")
	assert.ErrorIs(t, err, workitem.ErrFileNotFound)

	bad, err := NewRemoteAdapter(RemoteOptions{Host: srv.URL, Token: "wrong", Workspace: "acme", Retry: fastRetry, Logger: quietLogger})
	require.NoError(t, err)
	_, err = bad.ReserveInput(ctx)
	assert.ErrorIs(t, err, workitem.ErrConfiguration)
}

func TestRemoteAdapterRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv, q := newQueueServer(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/reserve") && calls.Add(1) == 1 {
				http.Error(w, "try later", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	ctx := context.Background()
	id, err := q.Enqueue(ctx, queue.EnqueueRequest{Workspace: "acme"})
	require.NoError(t, err)

	got, err := newTestRemote(t, srv.URL).ReserveInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteAdapterGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestRemote(t, srv.URL).ReserveInput(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 attempt(s)")
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteAdapterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"state must be DONE or FAILED"}`))
	}))
	t.Cleanup(srv.Close)

	err := newTestRemote(t, srv.URL).ReleaseInput(context.Background(), "x", workitem.StateDone, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state must be DONE or FAILED")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteAdapterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	a, err := NewRemoteAdapter(RemoteOptions{
		Host:      srv.URL,
		Workspace: "acme",
		Retry:     config.RetryConfig{MaxAttempts: 5, BackoffBase: time.Hour, MaxBackoff: time.Hour},
		Logger:    quietLogger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.ReserveInput(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRemoteAdapterValidation(t *testing.T) {
	_, err := NewRemoteAdapter(RemoteOptions{Workspace: "acme"})
	assert.ErrorIs(t, err, workitem.ErrConfiguration)

	_, err = NewRemoteAdapter(RemoteOptions{Host: "queue.example.com"})
	assert.ErrorIs(t, err, workitem.ErrConfiguration)

	a, err := NewRemoteAdapter(RemoteOptions{Host: "queue.example.com/", Workspace: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "https://queue.example.com", a.base)
	assert.Equal(t, "default", a.runID)
	assert.Equal(t, config.DefaultRetryConfig(), a.retry)
}
