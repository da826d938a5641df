package watch

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/workitems/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	EventsDropped int64  `json:"events_dropped"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents streams /events into ch until the connection drops.
func subscribeToEvents(apiURL, apiKey, workspace string, lastID *int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		endpoint := apiURL + "/events"
		if workspace != "" {
			endpoint += "?workspace=" + url.QueryEscape(workspace)
		}
		req, err := http.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if *lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(*lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return errMsg(&statusErr{code: resp.StatusCode})
		}

		readSSE(resp.Body, func(e events.Event) {
			*lastID = e.ID
			ch <- e
		})
		return sseDisconnectedMsg{}
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string {
	return "events stream: HTTP " + strconv.Itoa(e.code) + " " + http.StatusText(e.code)
}

// readSSE parses an event stream, calling emit for every complete event.
// The workspace is taken from the "workspace" field of the JSON data.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	var (
		id   int64
		typ  string
		data string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				e := events.Event{ID: id, Type: typ, At: time.Now(), Data: []byte(data)}
				var envelope struct {
					Workspace string `json:"workspace"`
				}
				if json.Unmarshal(e.Data, &envelope) == nil {
					e.Workspace = envelope.Workspace
				}
				emit(e)
			}
			id, typ, data = 0, "", ""
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries /healthz.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
