package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/mattjoyce/workitems/internal/log"
	"github.com/mattjoyce/workitems/internal/workitem"
)

// FileRecord is one entry of a JSON work item store.
type FileRecord struct {
	Payload   any                 `json:"payload"`
	Files     map[string]string   `json:"files,omitempty"`
	State     workitem.State      `json:"state,omitempty"`
	Exception *workitem.Exception `json:"exception,omitempty"`
}

// FileOptions configure a FileAdapter.
type FileOptions struct {
	InputPath  string
	OutputPath string
	// DefaultEmptyInput serves a single empty input when InputPath is unset.
	DefaultEmptyInput bool
	Logger            *slog.Logger
}

// FileAdapter keeps work items in local JSON array files. Inputs are served
// in file order and addressed by their index; outputs get random ids and are
// appended to the output store. Attached files live in a directory named
// after the item, next to the store that holds it.
//
// Input and output may name the same file. The inputs then stand in for the
// existing records and every write carries inputs followed by new outputs.
type FileAdapter struct {
	inputPath  string
	outputPath string
	sameStore  bool
	logger     *slog.Logger

	inputs   []FileRecord
	cursor   int
	released map[int]bool

	// existing holds records already in the output store before this run.
	existing  []FileRecord
	outputs   []FileRecord
	outputIDs map[string]int
	parents   map[string]string
}

var _ workitem.Adapter = (*FileAdapter)(nil)

// NewFileAdapter loads the input store. A missing input file is an error;
// local I/O errors are returned with their fs error intact.
func NewFileAdapter(opts FileOptions) (*FileAdapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("file-adapter")
	}
	a := &FileAdapter{
		inputPath: opts.InputPath,
		logger:    logger,
		released:  make(map[int]bool),
		outputIDs: make(map[string]int),
		parents:   make(map[string]string),
	}

	switch {
	case opts.InputPath != "":
		records, err := readStore(opts.InputPath)
		if err != nil {
			return nil, fmt.Errorf("load input work items: %w", err)
		}
		a.inputs = records
	case opts.DefaultEmptyInput:
		logger.Warn("no input work item path configured, serving a single empty input", "env", "RPA_INPUT_WORKITEM_PATH")
		a.inputs = []FileRecord{{Payload: map[string]any{}}}
	}

	if err := a.SetOutputPath(opts.OutputPath); err != nil {
		return nil, err
	}
	return a, nil
}

// SetOutputPath points the adapter at an output store. Records already in
// that store are kept and new outputs are appended after them.
func (a *FileAdapter) SetOutputPath(path string) error {
	a.outputPath = path
	a.existing = nil
	a.sameStore = false
	if path == "" {
		return nil
	}
	if a.inputPath != "" && samePath(a.inputPath, path) {
		a.sameStore = true
		a.logger.Debug("input and output share one store", "path", path)
		return nil
	}
	records, err := readStore(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load output work items: %w", err)
	}
	a.existing = records
	return nil
}

func (a *FileAdapter) InputPath() string  { return a.inputPath }
func (a *FileAdapter) OutputPath() string { return a.outputPath }

func (a *FileAdapter) ReserveInput(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.cursor >= len(a.inputs) {
		if a.inputPath == "" && len(a.inputs) == 0 {
			return "", fmt.Errorf("%w: no input path configured", workitem.ErrEmptyQueue)
		}
		return "", fmt.Errorf("%w: all %d input(s) consumed", workitem.ErrEmptyQueue, len(a.inputs))
	}
	id := strconv.Itoa(a.cursor)
	a.cursor++
	a.logger.Debug("reserved input", log.Item(id))
	return id, nil
}

func (a *FileAdapter) ReleaseInput(ctx context.Context, id string, state workitem.State, exc *workitem.Exception) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := a.reservedInput(id)
	if err != nil {
		return err
	}
	if a.released[idx] {
		return fmt.Errorf("%w: input %s", workitem.ErrAlreadyReleased, id)
	}
	a.inputs[idx].State = state
	a.inputs[idx].Exception = exc
	if a.inputPath != "" {
		if err := a.writeInputs(); err != nil {
			return err
		}
	}
	a.released[idx] = true
	a.logger.Info("released input", log.Item(id), "state", state)
	return nil
}

func (a *FileAdapter) CreateOutput(ctx context.Context, parentID string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := a.reservedInput(parentID); err != nil {
		return "", err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	copied, err := copyJSON(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	a.outputIDs[id] = len(a.outputs)
	a.parents[id] = parentID
	a.outputs = append(a.outputs, FileRecord{Payload: copied})
	return id, nil
}

// LoadPayload returns a copy; callers never share maps with the store.
func (a *FileAdapter) LoadPayload(_ context.Context, id string) (any, error) {
	rec, err := a.record(id)
	if err != nil {
		return nil, err
	}
	return copyJSON(rec.Payload)
}

func (a *FileAdapter) SavePayload(_ context.Context, id string, payload any) error {
	rec, err := a.record(id)
	if err != nil {
		return err
	}
	copied, err := copyJSON(payload)
	if err != nil {
		return err
	}
	rec.Payload = copied
	return a.persist(id)
}

func (a *FileAdapter) ListFiles(_ context.Context, id string) ([]string, error) {
	rec, err := a.record(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rec.Files))
	for name := range rec.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (a *FileAdapter) GetFile(_ context.Context, id, name string) ([]byte, error) {
	rec, err := a.record(id)
	if err != nil {
		return nil, err
	}
	rel, ok := rec.Files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", workitem.ErrFileNotFound, name, id)
	}
	return os.ReadFile(a.resolveFile(id, rel))
}

// AddFile writes content to <store dir>/<id>/<name>.
func (a *FileAdapter) AddFile(_ context.Context, id, name string, content []byte) error {
	rec, err := a.record(id)
	if err != nil {
		return err
	}
	if err := validateFileName(name); err != nil {
		return err
	}
	store := a.storePath(id)
	if store == "" {
		return a.noPathError(id)
	}
	rel := filepath.ToSlash(filepath.Join(id, name))
	dst := filepath.Join(filepath.Dir(store), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create file directory: %w", err)
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return fmt.Errorf("write work item file: %w", err)
	}
	if rec.Files == nil {
		rec.Files = make(map[string]string)
	}
	rec.Files[name] = rel
	return a.persist(id)
}

// RemoveFile detaches the file. Output files are deleted from disk; input
// files are left alone since they are not owned by the adapter.
func (a *FileAdapter) RemoveFile(_ context.Context, id, name string) error {
	rec, err := a.record(id)
	if err != nil {
		return err
	}
	rel, ok := rec.Files[name]
	if !ok {
		return fmt.Errorf("%w: %q in %s", workitem.ErrFileNotFound, name, id)
	}
	delete(rec.Files, name)
	if _, isOutput := a.outputIDs[id]; isOutput {
		if err := os.Remove(a.resolveFile(id, rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove work item file: %w", err)
		}
	}
	return a.persist(id)
}

// Parent returns the input id an output was created under.
func (a *FileAdapter) Parent(outputID string) (string, bool) {
	id, ok := a.parents[outputID]
	return id, ok
}

// Outputs returns the output records created in this run.
func (a *FileAdapter) Outputs() []FileRecord {
	out := make([]FileRecord, len(a.outputs))
	copy(out, a.outputs)
	return out
}

func (a *FileAdapter) reservedInput(id string) (int, error) {
	idx, err := strconv.Atoi(id)
	if err != nil || idx < 0 || idx >= len(a.inputs) {
		return 0, fmt.Errorf("%w: input %q", workitem.ErrItemNotFound, id)
	}
	if idx >= a.cursor {
		return 0, fmt.Errorf("input %s has not been reserved", id)
	}
	return idx, nil
}

func (a *FileAdapter) record(id string) (*FileRecord, error) {
	if idx, ok := a.outputIDs[id]; ok {
		return &a.outputs[idx], nil
	}
	idx, err := a.reservedInput(id)
	if err != nil {
		return nil, err
	}
	return &a.inputs[idx], nil
}

func (a *FileAdapter) storePath(id string) string {
	if _, ok := a.outputIDs[id]; ok {
		return a.outputPath
	}
	return a.inputPath
}

func (a *FileAdapter) resolveFile(id, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(a.storePath(id)), filepath.FromSlash(rel))
}

func (a *FileAdapter) persist(id string) error {
	if _, ok := a.outputIDs[id]; ok {
		if a.outputPath == "" {
			return a.noPathError(id)
		}
		return a.writeOutputs()
	}
	if a.inputPath == "" {
		return a.noPathError(id)
	}
	return a.writeInputs()
}

func (a *FileAdapter) writeInputs() error {
	if a.sameStore {
		return writeStore(a.inputPath, slices.Concat(a.inputs, a.outputs))
	}
	return writeStore(a.inputPath, a.inputs)
}

func (a *FileAdapter) writeOutputs() error {
	if a.sameStore {
		return writeStore(a.outputPath, slices.Concat(a.inputs, a.outputs))
	}
	return writeStore(a.outputPath, slices.Concat(a.existing, a.outputs))
}

// samePath reports whether a and b name the same store file, following
// symlinks when both exist.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

func (a *FileAdapter) noPathError(id string) error {
	if _, ok := a.outputIDs[id]; ok {
		return fmt.Errorf("%w: no output path configured (set RPA_OUTPUT_WORKITEM_PATH)", workitem.ErrStorage)
	}
	return fmt.Errorf("%w: no input path configured (set RPA_INPUT_WORKITEM_PATH)", workitem.ErrStorage)
}

func readStore(path string) ([]FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []FileRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("parse work item store %s: %w", path, err)
	}
	return records, nil
}

// copyJSON deep-copies v through a JSON round trip. Numbers decode as
// json.Number so integers beyond 2^53 survive.
func copyJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON serializable: %v", workitem.ErrStorage, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", workitem.ErrStorage, err)
	}
	return out, nil
}

// writeStore replaces the store atomically while holding its lock file.
func writeStore(path string, records []FileRecord) error {
	if records == nil {
		records = []FileRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode store: %v", workitem.ErrStorage, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock work item store: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace work item store: %w", err)
	}
	return nil
}
