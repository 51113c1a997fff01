// Package webui serves the HTTP view of the live test grid over
// gorilla/mux, grounded in codemug-shhttp's router/handler shape
// (mux.NewRouter, glog error logging, JSON response bodies). It
// is the one corner of this repository that logs through golang/glog
// rather than slog, inherited unchanged from that lineage the same way the
// teacher codebase lets slog and ad hoc log.Printf coexist.
package webui

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"limmat/internal/resultdb"
	"limmat/internal/statusbus"
)

// Server exposes the live cell grid and captured test output over HTTP.
type Server struct {
	bus *statusbus.Bus
	db  *resultdb.Database

	mu    sync.RWMutex
	state statusbus.Snapshot

	sub    <-chan statusbus.Event
	router *mux.Router
}

// New constructs a Server subscribed to bus. Call Close to unsubscribe.
func New(bus *statusbus.Bus, db *resultdb.Database) *Server {
	s := &Server{bus: bus, db: db, state: make(statusbus.Snapshot)}
	s.sub = bus.Subscribe()
	go s.consume()

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/cells/{test}/{revision}/stdout", s.handleStream("stdout")).Methods(http.MethodGet)
	r.HandleFunc("/api/cells/{test}/{revision}/stderr", s.handleStream("stderr")).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the HTTP handler to mount on a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the Server's StatusBus subscription.
func (s *Server) Close() {
	s.bus.Unsubscribe(s.sub)
}

func (s *Server) consume() {
	for ev := range s.sub {
		s.mu.Lock()
		if ev.Snapshot != nil {
			s.state = ev.Snapshot
		} else if ev.Transition != nil {
			s.state[ev.Transition.Key] = *ev.Transition
		}
		s.mu.Unlock()
	}
}

func (s *Server) snapshot() statusbus.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(statusbus.Snapshot, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		glog.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStream(stream string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		test, revision := vars["test"], vars["revision"]

		s.mu.RLock()
		cell, ok := s.state[statusbus.Key{Test: test, Revision: revision}]
		s.mu.RUnlock()
		if !ok || cell.State != statusbus.Done {
			http.NotFound(w, r)
			return
		}

		path := cell.StdoutPath
		if stream == "stderr" {
			path = cell.StderrPath
		}
		if path == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		http.ServeFile(w, r, path)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(indexHTML)); err != nil {
		glog.Error(err)
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>limmat</title>
  <style>
    body { font-family: monospace; margin: 2em; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #ccc; padding: 0.3em 0.6em; text-align: left; }
    .done-ok { background: #d7f5d7; }
    .done-fail { background: #f5d7d7; }
    .running { background: #fff6cc; }
    .blocked { background: #eee; }
  </style>
</head>
<body>
  <h1>limmat</h1>
  <table id="grid"><thead><tr><th>test</th><th>revision</th><th>state</th></tr></thead><tbody></tbody></table>
  <script>
    async function poll() {
      const res = await fetch('/api/state');
      const cells = await res.json();
      const tbody = document.querySelector('#grid tbody');
      tbody.innerHTML = '';
      for (const key in cells) {
        const c = cells[key];
        const at = key.indexOf('@');
        const test = key.slice(0, at), revision = key.slice(at + 1);
        const tr = document.createElement('tr');
        let cls = c.State;
        if (c.State === 'done') cls = c.OutcomeOK ? 'done-ok' : 'done-fail';
        tr.className = cls;
        tr.innerHTML = '<td>' + test + '</td><td>' + revision + '</td><td>' + c.State + '</td>';
        tbody.appendChild(tr);
      }
    }
    poll();
    setInterval(poll, 1000);
  </script>
</body>
</html>
`
