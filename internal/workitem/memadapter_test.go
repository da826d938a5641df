package workitem_test

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattjoyce/workitems/internal/workitem"
)

type memRecord struct {
	parent    string
	payload   any
	files     map[string][]byte
	state     workitem.State
	exception *workitem.Exception
}

// memAdapter is an in-memory Adapter used to exercise the Library.
type memAdapter struct {
	order   []string
	records map[string]*memRecord
	cursor  int
	nextOut int
}

func newMemAdapter(payloads ...any) *memAdapter {
	m := &memAdapter{records: make(map[string]*memRecord)}
	for i, p := range payloads {
		id := fmt.Sprintf("in-%d", i)
		m.order = append(m.order, id)
		m.records[id] = &memRecord{payload: p, files: map[string][]byte{}, state: workitem.StateUnprocessed}
	}
	return m
}

func (m *memAdapter) ReserveInput(context.Context) (string, error) {
	if m.cursor >= len(m.order) {
		return "", workitem.ErrEmptyQueue
	}
	id := m.order[m.cursor]
	m.cursor++
	return id, nil
}

func (m *memAdapter) ReleaseInput(_ context.Context, id string, state workitem.State, exc *workitem.Exception) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if r.state != workitem.StateUnprocessed {
		return workitem.ErrAlreadyReleased
	}
	r.state = state
	r.exception = exc
	return nil
}

func (m *memAdapter) CreateOutput(_ context.Context, parentID string, payload any) (string, error) {
	id := fmt.Sprintf("out-%d", m.nextOut)
	m.nextOut++
	m.records[id] = &memRecord{parent: parentID, payload: payload, files: map[string][]byte{}}
	return id, nil
}

func (m *memAdapter) LoadPayload(_ context.Context, id string) (any, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return r.payload, nil
}

func (m *memAdapter) SavePayload(_ context.Context, id string, payload any) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	r.payload = payload
	return nil
}

func (m *memAdapter) ListFiles(_ context.Context, id string) ([]string, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.files))
	for n := range r.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memAdapter) GetFile(_ context.Context, id, name string) ([]byte, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	b, ok := r.files[name]
	if !ok {
		return nil, workitem.ErrFileNotFound
	}
	return b, nil
}

func (m *memAdapter) AddFile(_ context.Context, id, name string, content []byte) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	r.files[name] = append([]byte(nil), content...)
	return nil
}

func (m *memAdapter) RemoveFile(_ context.Context, id, name string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	delete(r.files, name)
	return nil
}

func (m *memAdapter) get(id string) (*memRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workitem.ErrItemNotFound, id)
	}
	return r, nil
}
