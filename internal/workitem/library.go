package workitem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mattjoyce/workitems/internal/log"
)

// Options tune a Library.
type Options struct {
	// AutoRelease releases an unreleased current input as DONE when the next
	// input is requested.
	AutoRelease bool
	Logger      *slog.Logger
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{AutoRelease: true}
}

// Library drives the work item lifecycle against one adapter. It is not safe
// for concurrent use; one task consumes one queue at a time.
type Library struct {
	adapter Adapter
	opts    Options
	logger  *slog.Logger

	inputs  []*Item
	outputs []*Item
	current *Item
}

// New creates a Library over adapter.
func New(adapter Adapter, opts Options) *Library {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("workitems")
	}
	return &Library{adapter: adapter, opts: opts, logger: logger}
}

// Adapter returns the backing adapter.
func (l *Library) Adapter() Adapter { return l.adapter }

// Current returns the active item, the one variable and file operations use.
func (l *Library) Current() *Item { return l.current }

// Input returns the most recently reserved input, or nil.
func (l *Library) Input() *Item {
	if len(l.inputs) == 0 {
		return nil
	}
	return l.inputs[len(l.inputs)-1]
}

// Inputs returns every input reserved so far, in order.
func (l *Library) Inputs() []*Item { return slices.Clone(l.inputs) }

// Outputs returns every output created so far, in order.
func (l *Library) Outputs() []*Item { return slices.Clone(l.outputs) }

// SetCurrentWorkItem makes item the active item.
func (l *Library) SetCurrentWorkItem(item *Item) error {
	if item == nil {
		return fmt.Errorf("work item is nil")
	}
	if !slices.Contains(l.inputs, item) && !slices.Contains(l.outputs, item) {
		return fmt.Errorf("%w: %s does not belong to this library", ErrItemNotFound, item.ID())
	}
	l.current = item
	return nil
}

// GetInputWorkItem reserves and loads the next input item.
func (l *Library) GetInputWorkItem(ctx context.Context) (*Item, error) {
	if in := l.Input(); in != nil && !in.Released() {
		if !l.opts.AutoRelease {
			return nil, fmt.Errorf("%w: release %s before getting the next one", ErrNotReleased, in.ID())
		}
		if err := l.release(ctx, in, StateDone, nil); err != nil {
			return nil, fmt.Errorf("auto-release %s: %w", in.ID(), err)
		}
	}

	id, err := l.adapter.ReserveInput(ctx)
	if err != nil {
		if errors.Is(err, ErrEmptyQueue) {
			l.logger.Info("input queue is empty", "reserved", len(l.inputs))
		}
		return nil, err
	}

	item := newItem(l.adapter, l.logger, id, "", KindInput)
	if err := item.Load(ctx); err != nil {
		return nil, err
	}
	l.inputs = append(l.inputs, item)
	l.current = item
	l.logger.Info("input work item reserved", log.Item(id))
	return item, nil
}

// ReleaseInputWorkItem sets the terminal state of the current input item. It
// can be called once per input; FAILED requires an exception type.
func (l *Library) ReleaseInputWorkItem(ctx context.Context, state State, exc *Exception) error {
	in := l.Input()
	if in == nil {
		return fmt.Errorf("%w: nothing to release", ErrNoInput)
	}
	return l.release(ctx, in, state, exc)
}

func (l *Library) release(ctx context.Context, in *Item, state State, exc *Exception) error {
	if in.Released() {
		return fmt.Errorf("%w: input %s was already released as %s", ErrAlreadyReleased, in.ID(), in.State())
	}
	switch state {
	case StateDone:
		if exc != nil {
			return fmt.Errorf("a DONE release cannot carry an exception")
		}
	case StateFailed:
		if exc == nil || exc.Type == "" {
			return ErrExceptionTypeRequired
		}
		if _, err := ParseExceptionType(string(exc.Type)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot release with state %q", state)
	}

	if in.Modified() {
		if err := in.Save(ctx); err != nil {
			return fmt.Errorf("save before release: %w", err)
		}
	}
	if err := l.adapter.ReleaseInput(ctx, in.ID(), state, exc); err != nil {
		return fmt.Errorf("release %s: %w", in.ID(), err)
	}
	in.markReleased(state, exc)

	attrs := []any{log.Item(in.ID()), "state", state}
	if exc != nil {
		attrs = append(attrs, "exception_type", exc.Type, "code", exc.Code, "message", exc.Message)
	}
	l.logger.Info("input work item released", attrs...)
	return nil
}

// CreateOutputWorkItem creates a child of the current input and makes it the
// active item. files are local paths attached under their base names.
func (l *Library) CreateOutputWorkItem(ctx context.Context, variables map[string]any, files []string, save bool) (*Item, error) {
	parent := l.Input()
	if parent == nil {
		return nil, fmt.Errorf("%w: unable to create an output work item without an input", ErrNoInput)
	}
	if parent.Released() {
		return nil, fmt.Errorf("%w: can't create any more output work items since the last input was released, get a new input work item first", ErrAlreadyReleased)
	}

	id, err := l.adapter.CreateOutput(ctx, parent.ID(), nil)
	if err != nil {
		return nil, fmt.Errorf("create output for %s: %w", parent.ID(), err)
	}

	item := newItem(l.adapter, l.logger, id, parent.ID(), KindOutput)
	item.payload = map[string]any{}
	if len(variables) > 0 {
		if err := item.SetVariables(variables); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		if _, err := item.AddFile(f, ""); err != nil {
			return nil, err
		}
	}
	if save {
		if err := item.Save(ctx); err != nil {
			return nil, err
		}
	}

	l.outputs = append(l.outputs, item)
	l.current = item
	l.logger.Info("output work item created", log.Item(id), log.Parent(parent.ID()))
	return item, nil
}

// SaveWorkItem persists the active item.
func (l *Library) SaveWorkItem(ctx context.Context) error {
	item, err := l.active()
	if err != nil {
		return err
	}
	return item.Save(ctx)
}

func (l *Library) active() (*Item, error) {
	if l.current == nil {
		return nil, fmt.Errorf("%w: no active work item", ErrNoInput)
	}
	return l.current, nil
}
