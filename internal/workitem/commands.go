package workitem

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Args are the named arguments of a command call.
type Args map[string]any

// Handler executes one command against a Library.
type Handler func(ctx context.Context, lib *Library, args Args) (any, error)

// ItemView is the serializable summary returned by item-level commands.
type ItemView struct {
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Kind      Kind       `json:"kind"`
	State     State      `json:"state"`
	Released  bool       `json:"released"`
	Exception *Exception `json:"exception,omitempty"`
}

func viewOf(it *Item) ItemView {
	return ItemView{
		ID:        it.ID(),
		ParentID:  it.ParentID(),
		Kind:      it.Kind(),
		State:     it.State(),
		Released:  it.Released(),
		Exception: it.Exception(),
	}
}

// Registry maps command names to handlers. Names are matched ignoring case,
// spaces and underscores, so "Get Input Work Item" and "get_input_work_item"
// are the same command.
type Registry struct {
	names    map[string]string
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string), handlers: make(map[string]Handler)}
}

// Register adds a handler under name. Registering a name twice panics.
func (r *Registry) Register(name string, h Handler) {
	key := normalizeCommand(name)
	if _, dup := r.handlers[key]; dup {
		panic(fmt.Sprintf("command %q registered twice", name))
	}
	r.names[key] = name
	r.handlers[key] = h
}

// Lookup finds the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[normalizeCommand(name)]
	return h, ok
}

// Names lists the canonical command names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Call runs the named command.
func (r *Registry) Call(ctx context.Context, lib *Library, name string, args Args) (any, error) {
	h, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	if args == nil {
		args = Args{}
	}
	return h(ctx, lib, args)
}

func normalizeCommand(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name)
}

// Commands returns the registry of work item commands.
func Commands() *Registry {
	r := NewRegistry()

	r.Register("Get Input Work Item", func(ctx context.Context, lib *Library, _ Args) (any, error) {
		item, err := lib.GetInputWorkItem(ctx)
		if err != nil {
			return nil, err
		}
		return viewOf(item), nil
	})
	r.Register("Release Input Work Item", cmdRelease)
	r.Register("Create Output Work Item", cmdCreateOutput)
	r.Register("Save Work Item", func(ctx context.Context, lib *Library, _ Args) (any, error) {
		return nil, lib.SaveWorkItem(ctx)
	})
	r.Register("Get Current Work Item", func(_ context.Context, lib *Library, _ Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		return viewOf(item), nil
	})

	r.Register("Get Work Item Variable", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		name, err := args.String("name")
		if err != nil {
			return nil, err
		}
		if def, ok := args["default"]; ok {
			return item.GetVariableOr(name, def)
		}
		return item.GetVariable(name)
	})
	r.Register("Set Work Item Variable", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		name, err := args.String("name")
		if err != nil {
			return nil, err
		}
		return nil, item.SetVariable(name, args["value"])
	})
	r.Register("Set Work Item Variables", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		vars, err := args.Map("variables")
		if err != nil {
			return nil, err
		}
		return nil, item.SetVariables(vars)
	})
	r.Register("Get Work Item Variables", func(_ context.Context, lib *Library, _ Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		return item.Variables()
	})
	r.Register("Delete Work Item Variables", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		names, err := args.Strings("names")
		if err != nil {
			return nil, err
		}
		return nil, item.DeleteVariables(names...)
	})
	r.Register("Get Work Item Payload", func(_ context.Context, lib *Library, _ Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		return item.Payload(), nil
	})
	r.Register("Set Work Item Payload", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		return nil, item.SetPayload(args["payload"])
	})

	r.Register("List Work Item Files", func(_ context.Context, lib *Library, _ Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		return item.Files(), nil
	})
	r.Register("Get Work Item File", func(ctx context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		name, err := args.String("name")
		if err != nil {
			return nil, err
		}
		return item.GetFile(ctx, name, args.StringOr("path", ""))
	})
	r.Register("Add Work Item File", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		path, err := args.String("path")
		if err != nil {
			return nil, err
		}
		return item.AddFile(path, args.StringOr("name", ""))
	})
	r.Register("Remove Work Item File", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		name, err := args.String("name")
		if err != nil {
			return nil, err
		}
		missingOK, err := args.Bool("missing_ok", true)
		if err != nil {
			return nil, err
		}
		return nil, item.RemoveFile(name, missingOK)
	})
	r.Register("Get Work Item Files", func(ctx context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		pattern, err := args.String("pattern")
		if err != nil {
			return nil, err
		}
		return item.GetFiles(ctx, pattern, args.StringOr("dirname", "."))
	})
	r.Register("Add Work Item Files", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		pattern, err := args.String("pattern")
		if err != nil {
			return nil, err
		}
		return item.AddFiles(pattern)
	})
	r.Register("Remove Work Item Files", func(_ context.Context, lib *Library, args Args) (any, error) {
		item, err := lib.active()
		if err != nil {
			return nil, err
		}
		pattern, err := args.String("pattern")
		if err != nil {
			return nil, err
		}
		return item.RemoveFiles(pattern)
	})

	return r
}

func cmdRelease(ctx context.Context, lib *Library, args Args) (any, error) {
	state, err := ParseState(args.StringOr("state", ""))
	if err != nil {
		return nil, err
	}
	if state == StateUnprocessed {
		return nil, fmt.Errorf("state is required (DONE or FAILED)")
	}
	var exc *Exception
	if raw := args.StringOr("exception_type", ""); raw != "" {
		typ, err := ParseExceptionType(raw)
		if err != nil {
			return nil, err
		}
		exc = &Exception{Type: typ, Code: args.StringOr("code", ""), Message: args.StringOr("message", "")}
	} else if state == StateFailed && (args.StringOr("code", "") != "" || args.StringOr("message", "") != "") {
		return nil, ErrExceptionTypeRequired
	}
	return nil, lib.ReleaseInputWorkItem(ctx, state, exc)
}

func cmdCreateOutput(ctx context.Context, lib *Library, args Args) (any, error) {
	var vars map[string]any
	if _, ok := args["variables"]; ok {
		m, err := args.Map("variables")
		if err != nil {
			return nil, err
		}
		vars = m
	}
	var files []string
	if _, ok := args["files"]; ok {
		fs, err := args.Strings("files")
		if err != nil {
			return nil, err
		}
		files = fs
	}
	save, err := args.Bool("save", false)
	if err != nil {
		return nil, err
	}
	item, err := lib.CreateOutputWorkItem(ctx, vars, files, save)
	if err != nil {
		return nil, err
	}
	return viewOf(item), nil
}

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("argument %q is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

// StringOr returns a string argument or def when absent or not a string.
func (a Args) StringOr(key, def string) string {
	if s, ok := a[key].(string); ok {
		return s
	}
	return def
}

// Bool returns a boolean argument or def when absent.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q must be a boolean, got %T", key, v)
	}
	return b, nil
}

// Map returns a required object argument.
func (a Args) Map(key string) (map[string]any, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %q is required", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an object, got %T", key, v)
	}
	return m, nil
}

// Strings returns a required list-of-strings argument. A single string is
// accepted as a one-element list.
func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %q is required", key)
	}
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("argument %q[%d] must be a string, got %T", key, i, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("argument %q must be a list of strings, got %T", key, v)
	}
}
