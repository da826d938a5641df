package workitem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"

	"github.com/mattjoyce/workitems/internal/log"
)

// Item is the in-memory view of one work item. Mutations stay local until
// Save is called.
type Item struct {
	adapter Adapter
	logger  *slog.Logger

	id       string
	parentID string
	kind     Kind
	payload  any

	files    []string
	toAdd    map[string]string // name -> local source path
	addOrder []string
	toRemove map[string]struct{}

	state     State
	exception *Exception
	released  bool
	modified  bool
}

func newItem(adapter Adapter, logger *slog.Logger, id, parentID string, kind Kind) *Item {
	return &Item{
		adapter:  adapter,
		logger:   logger.With(log.Item(id)),
		id:       id,
		parentID: parentID,
		kind:     kind,
		toAdd:    make(map[string]string),
		toRemove: make(map[string]struct{}),
		state:    StateUnprocessed,
	}
}

func (it *Item) ID() string            { return it.id }
func (it *Item) ParentID() string      { return it.parentID }
func (it *Item) Kind() Kind            { return it.kind }
func (it *Item) State() State          { return it.state }
func (it *Item) Exception() *Exception { return it.exception }
func (it *Item) Released() bool        { return it.released }

// Modified reports unsaved payload or file changes.
func (it *Item) Modified() bool { return it.modified }

// Load replaces the local view with the adapter's copy.
func (it *Item) Load(ctx context.Context) error {
	payload, err := it.adapter.LoadPayload(ctx, it.id)
	if err != nil {
		return fmt.Errorf("load payload of %s: %w", it.id, err)
	}
	files, err := it.adapter.ListFiles(ctx, it.id)
	if err != nil {
		return fmt.Errorf("list files of %s: %w", it.id, err)
	}
	copied, err := normalizeJSON(payload)
	if err != nil {
		return fmt.Errorf("payload of %s: %w", it.id, err)
	}
	it.payload = copied
	it.files = slices.Clone(files)
	sort.Strings(it.files)
	it.toAdd = make(map[string]string)
	it.addOrder = nil
	it.toRemove = make(map[string]struct{})
	it.modified = false
	return nil
}

// Save persists the payload, then pending file removals, then additions.
func (it *Item) Save(ctx context.Context) error {
	if err := it.checkMutable(); err != nil {
		return err
	}
	if err := it.adapter.SavePayload(ctx, it.id, cloneJSON(it.payload)); err != nil {
		return fmt.Errorf("save payload of %s: %w", it.id, err)
	}

	removed := make([]string, 0, len(it.toRemove))
	for name := range it.toRemove {
		removed = append(removed, name)
	}
	sort.Strings(removed)
	for _, name := range removed {
		if err := it.adapter.RemoveFile(ctx, it.id, name); err != nil {
			return fmt.Errorf("remove file %q of %s: %w", name, it.id, err)
		}
		delete(it.toRemove, name)
		it.files = slices.DeleteFunc(it.files, func(f string) bool { return f == name })
	}

	for len(it.addOrder) > 0 {
		name := it.addOrder[0]
		content, err := os.ReadFile(it.toAdd[name])
		if err != nil {
			return fmt.Errorf("read file %q for %s: %w", it.toAdd[name], it.id, err)
		}
		if err := it.adapter.AddFile(ctx, it.id, name, content); err != nil {
			return fmt.Errorf("add file %q to %s: %w", name, it.id, err)
		}
		delete(it.toAdd, name)
		it.addOrder = it.addOrder[1:]
		if !slices.Contains(it.files, name) {
			it.files = append(it.files, name)
		}
	}
	sort.Strings(it.files)

	it.modified = false
	it.logger.Debug("work item saved", "kind", it.kind, "files", len(it.files))
	return nil
}

// Payload returns a copy of the payload.
func (it *Item) Payload() any { return cloneJSON(it.payload) }

// SetPayload replaces the payload. The value must be JSON serializable.
func (it *Item) SetPayload(payload any) error {
	if err := it.checkMutable(); err != nil {
		return err
	}
	normalized, err := normalizeJSON(payload)
	if err != nil {
		return err
	}
	it.payload = normalized
	it.modified = true
	return nil
}

// Variables returns a copy of the payload object.
func (it *Item) Variables() (map[string]any, error) {
	vars, err := it.variables()
	if err != nil {
		return nil, err
	}
	return cloneJSON(vars).(map[string]any), nil
}

// GetVariable returns the named variable or ErrVariableNotFound.
func (it *Item) GetVariable(name string) (any, error) {
	vars, err := it.variables()
	if err != nil {
		return nil, err
	}
	v, ok := vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVariableNotFound, name)
	}
	return cloneJSON(v), nil
}

// GetVariableOr returns the named variable, or def when it is missing.
func (it *Item) GetVariableOr(name string, def any) (any, error) {
	v, err := it.GetVariable(name)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, ErrVariableNotFound) {
		return def, nil
	}
	return nil, err
}

func (it *Item) SetVariable(name string, value any) error {
	return it.SetVariables(map[string]any{name: value})
}

// SetVariables merges vars into the payload object. Either every variable is
// applied or none is.
func (it *Item) SetVariables(vars map[string]any) error {
	if err := it.checkMutable(); err != nil {
		return err
	}
	cur, err := it.variables()
	if err != nil {
		return err
	}
	next := maps.Clone(cur)
	for name, value := range vars {
		normalized, err := normalizeJSON(value)
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		next[name] = normalized
	}
	it.payload = next
	it.modified = true
	return nil
}

// DeleteVariables removes the named variables; missing names are ignored.
func (it *Item) DeleteVariables(names ...string) error {
	if err := it.checkMutable(); err != nil {
		return err
	}
	cur, err := it.variables()
	if err != nil {
		return err
	}
	next := maps.Clone(cur)
	for _, name := range names {
		if _, ok := next[name]; ok {
			delete(next, name)
			it.modified = true
		}
	}
	it.payload = next
	return nil
}

// Files lists attached file names including unsaved additions.
func (it *Item) Files() []string {
	out := make([]string, 0, len(it.files)+len(it.addOrder))
	for _, name := range it.files {
		if _, gone := it.toRemove[name]; gone {
			continue
		}
		out = append(out, name)
	}
	for _, name := range it.addOrder {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// GetFile writes the named attachment to dst and returns the written path.
// An empty dst writes to the file name in the working directory.
func (it *Item) GetFile(ctx context.Context, name, dst string) (string, error) {
	if dst == "" {
		dst = name
	}
	var content []byte
	if src, ok := it.toAdd[name]; ok {
		b, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("read pending file %q: %w", src, err)
		}
		content = b
	} else {
		if !slices.Contains(it.Files(), name) {
			return "", fmt.Errorf("%w: %q in %s", ErrFileNotFound, name, it.id)
		}
		b, err := it.adapter.GetFile(ctx, it.id, name)
		if err != nil {
			return "", fmt.Errorf("get file %q of %s: %w", name, it.id, err)
		}
		content = b
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %q: %w", abs, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return "", fmt.Errorf("write file %q: %w", abs, err)
	}
	return abs, nil
}

// AddFile stages a local file as an attachment. An empty name uses the
// base name of src.
func (it *Item) AddFile(src, name string) (string, error) {
	if err := it.checkMutable(); err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("add file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("add file: %q is not a regular file", src)
	}
	if name == "" {
		name = filepath.Base(src)
	}
	if _, staged := it.toAdd[name]; !staged {
		it.addOrder = append(it.addOrder, name)
	}
	it.toAdd[name] = src
	delete(it.toRemove, name)
	it.modified = true
	return name, nil
}

// RemoveFile stages the removal of an attachment.
func (it *Item) RemoveFile(name string, missingOK bool) error {
	if err := it.checkMutable(); err != nil {
		return err
	}
	if _, staged := it.toAdd[name]; staged {
		delete(it.toAdd, name)
		it.addOrder = slices.DeleteFunc(it.addOrder, func(n string) bool { return n == name })
		if slices.Contains(it.files, name) {
			it.toRemove[name] = struct{}{}
		}
		it.modified = true
		return nil
	}
	if slices.Contains(it.files, name) {
		it.toRemove[name] = struct{}{}
		it.modified = true
		return nil
	}
	if missingOK {
		return nil
	}
	return fmt.Errorf("%w: %q in %s", ErrFileNotFound, name, it.id)
}

// AddFiles stages every local file matching the glob pattern.
func (it *Item) AddFiles(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var added []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		name, err := it.AddFile(m, "")
		if err != nil {
			return added, err
		}
		added = append(added, name)
	}
	return added, nil
}

// GetFiles writes every attachment whose name matches pattern into dir.
func (it *Item) GetFiles(ctx context.Context, pattern, dir string) ([]string, error) {
	names, err := it.matchFiles(pattern)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p, err := it.GetFile(ctx, name, filepath.Join(dir, name))
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// RemoveFiles stages removal of every attachment whose name matches pattern.
func (it *Item) RemoveFiles(pattern string) ([]string, error) {
	names, err := it.matchFiles(pattern)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := it.RemoveFile(name, true); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (it *Item) matchFiles(pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var out []string
	for _, name := range it.Files() {
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (it *Item) markReleased(state State, exc *Exception) {
	it.state = state
	it.exception = exc
	it.released = true
}

func (it *Item) checkMutable() error {
	if it.kind == KindInput && it.released {
		return fmt.Errorf("%w: %s", ErrAlreadyReleased, it.id)
	}
	return nil
}

func (it *Item) variables() (map[string]any, error) {
	switch p := it.payload.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		if p == nil {
			return map[string]any{}, nil
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s has %T", ErrPayloadNotObject, it.id, it.payload)
	}
}

// normalizeJSON coerces v to the shape it takes after a JSON round trip.
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode normalized value: %w", err)
	}
	return out, nil
}

// cloneJSON deep-copies a normalized JSON value.
func cloneJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneJSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSON(e)
		}
		return out
	default:
		return v
	}
}
