// Package resultdb implements the ResultDatabase: a content-addressed,
// directory-per-key store of test outcomes and their captured output
// streams. It is grounded on the original engine's result.rs Database /
// TestCaseOutput, translated from serde_json result.json + stdout.txt /
// stderr.txt into a staged-then-renamed directory layout so a reader never
// observes a partially-written entry.
package resultdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"limmat/internal/job"
)

// Key identifies a single cacheable test execution: the test's
// configuration hash paired with the version id of the revision it ran
// against (commit or tree hash, depending on the test's cache policy).
type Key struct {
	ConfigHash uint64
	VersionID  string
}

func (k Key) dirName() string {
	return fmt.Sprintf("%016x-%s", k.ConfigHash, k.VersionID)
}

// Record is the persisted outcome for a Key, reloaded from disk by Lookup.
type Record struct {
	Kind       job.Kind
	ExitCode   int
	StdoutPath string
	StderrPath string
}

type onDiskRecord struct {
	Kind     string `json:"kind"`
	ExitCode int    `json:"exit_code"`
}

// Database is a directory-backed store rooted at a fixed path, created on
// first use.
type Database struct {
	root string
}

// Open creates the database root directory if needed and returns a handle
// to it.
func Open(root string) (*Database, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating result database dir at %s: %w", root, err)
	}
	return &Database{root: root}, nil
}

func (d *Database) entryDir(k Key) string {
	return filepath.Join(d.root, k.dirName())
}

// Lookup returns the cached outcome for k, if any. Error outcomes are never
// stored, so a returned Record is always Success or Failure.
func (d *Database) Lookup(k Key) (*Record, bool, error) {
	dir := d.entryDir(k)
	raw, err := os.ReadFile(filepath.Join(dir, "result.json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading result for %s: %w", k.dirName(), err)
	}
	var on onDiskRecord
	if err := json.Unmarshal(raw, &on); err != nil {
		return nil, false, fmt.Errorf("parsing result for %s: %w", k.dirName(), err)
	}
	kind, err := parseKind(on.Kind)
	if err != nil {
		return nil, false, err
	}
	return &Record{
		Kind:       kind,
		ExitCode:   on.ExitCode,
		StdoutPath: filepath.Join(dir, "stdout"),
		StderrPath: filepath.Join(dir, "stderr"),
	}, true, nil
}

// StreamPaths returns the stdout/stderr file paths for k without requiring
// the caller to parse the result record, for use by UI components that
// just need to link to logs.
func (d *Database) StreamPaths(k Key) (stdout, stderr string, ok bool) {
	dir := d.entryDir(k)
	if _, err := os.Stat(filepath.Join(dir, "result.json")); err != nil {
		return "", "", false
	}
	return filepath.Join(dir, "stdout"), filepath.Join(dir, "stderr"), true
}

// Store idempotently records a terminal non-error outcome, copying the
// captured stdout/stderr stream files into the entry directory. Outcomes
// with Kind == job.Error must not be passed here; callers enforce this via
// Outcome.Cacheable before calling Store.
//
// Writes are staged in a sibling temp directory and renamed into place so
// a concurrent Lookup never observes a partially-written entry.
func (d *Database) Store(k Key, outcome job.Outcome) error {
	if !outcome.Cacheable() {
		return fmt.Errorf("refusing to cache non-cacheable outcome kind %v", outcome.Kind)
	}

	staging, err := os.MkdirTemp(d.root, ".staging-*")
	if err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := copyFile(outcome.StdoutPath, filepath.Join(staging, "stdout")); err != nil {
		return fmt.Errorf("staging stdout: %w", err)
	}
	if err := copyFile(outcome.StderrPath, filepath.Join(staging, "stderr")); err != nil {
		return fmt.Errorf("staging stderr: %w", err)
	}

	on := onDiskRecord{Kind: outcome.Kind.String(), ExitCode: outcome.ExitCode}
	raw, err := json.Marshal(on)
	if err != nil {
		return fmt.Errorf("serializing result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "result.json"), raw, 0o644); err != nil {
		return fmt.Errorf("writing staged result.json: %w", err)
	}
	// exit_status is kept alongside result.json as a plain ASCII file for
	// tooling that greps the database directly without parsing JSON.
	if err := os.WriteFile(filepath.Join(staging, "exit_status"), []byte(exitStatusString(outcome.ExitCode)), 0o644); err != nil {
		return fmt.Errorf("writing staged exit_status: %w", err)
	}

	final := d.entryDir(k)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("clearing prior entry for %s: %w", k.dirName(), err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("committing entry for %s: %w", k.dirName(), err)
	}
	return nil
}

func parseKind(s string) (job.Kind, error) {
	switch s {
	case job.Success.String():
		return job.Success, nil
	case job.Failure.String():
		return job.Failure, nil
	default:
		return 0, fmt.Errorf("unrecognized cached outcome kind %q", s)
	}
}

func copyFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, in, 0o644)
}

// exitStatusString is retained for the exit_status textual representation
// named in the persisted-state layout used by external tooling that greps
// the database directly, rather than going through Lookup.
func exitStatusString(code int) string {
	return strconv.Itoa(code)
}
