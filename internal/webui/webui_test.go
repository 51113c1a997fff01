package webui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"limmat/internal/resultdb"
	"limmat/internal/statusbus"
)

func newTestServer(t *testing.T) (*Server, *statusbus.Bus) {
	t.Helper()
	bus := statusbus.New()
	db, err := resultdb.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := New(bus, db)
	t.Cleanup(s.Close)
	return s, bus
}

func awaitConsumed(t *testing.T, s *Server, key statusbus.Key) statusbus.Cell {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		c, ok := s.state[key]
		s.mu.RUnlock()
		if ok {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v to be consumed", key)
	return statusbus.Cell{}
}

func TestHandleState_ReturnsJSONSnapshot(t *testing.T) {
	s, bus := newTestServer(t)
	key := statusbus.Key{Test: "build", Revision: "abc123"}
	bus.Publish(statusbus.Cell{Key: key, State: statusbus.Running})
	awaitConsumed(t, s, key)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var decoded map[string]statusbus.Cell
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	cell, ok := decoded["build@abc123"]
	if !ok {
		t.Fatalf("expected a build@abc123 entry, got %v", decoded)
	}
	if cell.State != statusbus.Running {
		t.Errorf("state = %v, want Running", cell.State)
	}
}

func TestHandleStream_NotFoundBeforeDone(t *testing.T) {
	s, bus := newTestServer(t)
	key := statusbus.Key{Test: "build", Revision: "abc123"}
	bus.Publish(statusbus.Cell{Key: key, State: statusbus.Running})
	awaitConsumed(t, s, key)

	req := httptest.NewRequest(http.MethodGet, "/api/cells/build/abc123/stdout", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleStream_ServesCapturedOutput(t *testing.T) {
	s, bus := newTestServer(t)
	stdoutPath := filepath.Join(t.TempDir(), "stdout")
	if err := os.WriteFile(stdoutPath, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	key := statusbus.Key{Test: "build", Revision: "abc123"}
	bus.Publish(statusbus.Cell{Key: key, State: statusbus.Done, OutcomeOK: true, StdoutPath: stdoutPath})
	awaitConsumed(t, s, key)

	req := httptest.NewRequest(http.MethodGet, "/api/cells/build/abc123/stdout", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello\n" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "hello\n")
	}
}

func TestHandleIndex_ServesHTML(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}
