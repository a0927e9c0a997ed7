package tracing

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTraceRedactsAuthHeaders(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer secret-token")
	headers.Set("X-Api-Key", "sk-secret")
	headers.Set("Content-Type", "application/json")

	at := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	err := r.WriteTrace("local", at, headers, []byte(`{"model":"x"}`), []byte(`{"id":"1"}`))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "traces", "local"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(filepath.Join(dir, "traces", "local", entries[0].Name()))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	req := got["request"].(map[string]any)
	hdrs := req["headers"].(map[string]any)
	assert.Equal(t, []any{"[REDACTED]"}, hdrs["Authorization"])
	assert.Equal(t, []any{"[REDACTED]"}, hdrs["X-Api-Key"])
	assert.Equal(t, []any{"application/json"}, hdrs["Content-Type"])
}

func TestWriteTraceNoopWithoutStateDir(t *testing.T) {
	r := New("")
	err := r.WriteTrace("local", time.Now(), http.Header{}, nil, nil)
	assert.NoError(t, err)
}

func TestDebugLogPath(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	at := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	path, err := r.DebugLogPath(at)
	require.NoError(t, err)
	assert.Contains(t, path, "logs")
	assert.Contains(t, path, "debug-session-")

	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}
