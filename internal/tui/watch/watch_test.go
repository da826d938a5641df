package watch

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workitems/internal/events"
)

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: item.enqueued",
		`data: {"workspace":"acme","id":"abc"}`,
		"",
		"id: 8",
		"event: item.released",
		`data: {"workspace":"acme","id":"abc","state":"FAILED"}`,
		"",
	}, "\n")

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.ItemEnqueued, got[0].Type)
	assert.Equal(t, "acme", got[0].Workspace)
	assert.Equal(t, "FAILED", releasedState(got[1]))
}

func TestUpdateWorkspaceState(t *testing.T) {
	states := make(map[string]*WorkspaceState)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	feed := []events.Event{
		{Type: events.ItemEnqueued, Workspace: "a", At: at, Data: []byte(`{"id":"1"}`)},
		{Type: events.ItemEnqueued, Workspace: "a", At: at, Data: []byte(`{"id":"2"}`)},
		{Type: events.ItemReserved, Workspace: "a", At: at, Data: []byte(`{"id":"1"}`)},
		{Type: events.ItemReserved, Workspace: "a", At: at, Data: []byte(`{"id":"2"}`)},
		{Type: events.OutputCreated, Workspace: "a", At: at, Data: []byte(`{"id":"o"}`)},
		{Type: events.ItemReleased, Workspace: "a", At: at, Data: []byte(`{"id":"1","state":"DONE"}`)},
		{Type: events.FileAdded, Workspace: "b", At: at, Data: []byte(`{"id":"x"}`)},
		{Type: events.ItemEnqueued, At: at, Data: []byte(`{}`)},
	}
	for _, e := range feed {
		updateWorkspaceState(states, e)
	}

	require.Len(t, states, 2)
	a := states["a"]
	assert.Equal(t, 2, a.Enqueued)
	assert.Equal(t, 1, a.Done)
	assert.Equal(t, 0, a.Failed)
	assert.Equal(t, 1, a.Outputs)
	assert.Equal(t, 1, a.InFlight())
	assert.Equal(t, 1, states["b"].Files)

	rows := workspaceRows(states)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0][0])
	assert.Equal(t, "09:30:00", rows[0][7])
}

func TestExtractEventDesc(t *testing.T) {
	e := events.Event{Data: []byte(`{"id":"0123456789","state":"FAILED","exception":{"type":"BUSINESS","code":"E1"}}`)}
	assert.Equal(t, "[01234567] FAILED BUSINESS/E1", extractEventDesc(e))

	e = events.Event{Data: []byte(`{"id":"o1","parent_id":"p1"}`)}
	assert.Equal(t, "[o1] parent p1", extractEventDesc(e))

	e = events.Event{Data: []byte(`not json`)}
	assert.Equal(t, "not json", extractEventDesc(e))
}

func TestModelAppliesEvents(t *testing.T) {
	m := New("http://localhost:8080/", "k", "")
	assert.Equal(t, "http://localhost:8080", m.apiURL)

	next, _ := m.Update(eventMsg(events.Event{Type: events.ItemEnqueued, Workspace: "acme", At: time.Now(), Data: []byte(`{"id":"1"}`)}))
	model := next.(Model)
	assert.Len(t, model.eventLog, 1)
	assert.True(t, model.health.Connected)
	assert.Equal(t, 1, model.workspaces["acme"].Enqueued)
	assert.Len(t, model.table.Rows(), 1)

	next, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := next.(Model).View()
	assert.Contains(t, view, "WORKITEMS WATCH")
	assert.Contains(t, view, "acme")
}

func TestPulseDecay(t *testing.T) {
	var p Pulse
	now := time.Now()
	p.OnEvent(now)
	assert.Equal(t, pulseWidth, p.lit)
	p.Decay(now.Add(5 * time.Second))
	assert.Equal(t, 3, p.lit)
	p.Decay(now.Add(time.Minute))
	assert.Equal(t, 0, p.lit)
}
