package api

import (
	"bufio"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/workitems/internal/auth"
	"github.com/mattjoyce/workitems/internal/events"
)

const (
	sseKeepAlive  = 15 * time.Second
	sseRetryDelay = 3 * time.Second
)

// sseStream frames events onto a flushing response.
type sseStream struct {
	w  *bufio.Writer
	fl http.Flusher
}

func (s sseStream) send(ev events.Event) error {
	s.w.WriteString("id: ")
	s.w.WriteString(strconv.FormatInt(ev.ID, 10))
	s.w.WriteString("\nevent: ")
	s.w.WriteString(ev.Type)
	// Payloads are compact JSON and never span lines.
	s.w.WriteString("\ndata: ")
	s.w.Write(ev.Data)
	s.w.WriteString("\n\n")
	return s.flush()
}

func (s sseStream) comment(text string) error {
	s.w.WriteString(": " + text + "\n\n")
	return s.flush()
}

func (s sseStream) flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// handleEvents handles GET /events?workspace=&type=&item=. Buffered events
// after Last-Event-ID are replayed before live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter, ok := s.eventFilter(w, r)
	if !ok {
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost;
	// the id check below drops the overlap.
	ch, cancel := s.events.Subscribe(filter)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := sseStream{w: bufio.NewWriter(w), fl: fl}
	stream.w.WriteString("retry: " + strconv.FormatInt(sseRetryDelay.Milliseconds(), 10) + "\n\n")

	last := lastEventID(r)
	for _, ev := range s.events.SnapshotSince(last, filter) {
		if err := stream.send(ev); err != nil {
			return
		}
		last = ev.ID
	}
	if err := stream.flush(); err != nil {
		return
	}

	tick := time.NewTicker(sseKeepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.ID <= last {
				continue
			}
			if err := stream.send(ev); err != nil {
				return
			}
			last = ev.ID
		case <-tick.C:
			if err := stream.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// eventFilter builds the subscription filter from the query. Tokens bound to
// workspaces only ever see their own.
func (s *Server) eventFilter(w http.ResponseWriter, r *http.Request) (events.Filter, bool) {
	p, _ := auth.PrincipalFromContext(r.Context())
	q := r.URL.Query()
	f := events.Filter{Workspaces: p.Workspaces, Item: q.Get("item")}

	if ws := q.Get("workspace"); ws != "" {
		if p.Workspaces != nil && !slices.Contains(p.Workspaces, ws) {
			s.writeError(w, http.StatusForbidden, "token is not valid for this workspace")
			return f, false
		}
		f.Workspaces = []string{ws}
	}

	if v := q.Get("type"); v != "" {
		for _, typ := range strings.Split(v, ",") {
			typ = strings.TrimSpace(typ)
			if !slices.Contains(events.Types, typ) {
				s.writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(typ))
				return f, false
			}
			f.Types = append(f.Types, typ)
		}
	}
	return f, true
}

// lastEventID reads the resume point from the header or, for clients that
// cannot set headers, the lastEventId query parameter.
func lastEventID(r *http.Request) int64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("lastEventId")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
