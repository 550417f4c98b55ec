//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
)

// FixturesDir returns the path to the fixtures directory
func FixturesDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(filename), "fixtures")
}

// PipelineDir returns the path to the sample pipeline fixtures
func PipelineDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(FixturesDir(t), "pipeline")
}

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// TempConfigPath creates a temporary config file path for testing
func TempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.toml")
}

// FreePort asks the kernel for an unused TCP port
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// FakeOllama serves the two Ollama endpoints porkchop uses. Every generate
// call answers with response.
type FakeOllama struct {
	*httptest.Server
	Model    string
	Response string
	calls    atomic.Int64
}

// Calls returns how many generate requests were served
func (f *FakeOllama) Calls() int64 {
	return f.calls.Load()
}

// NewFakeOllama starts a fake server that is closed with the test
func NewFakeOllama(t *testing.T, model, response string) *FakeOllama {
	t.Helper()
	f := &FakeOllama{Model: model, Response: response}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		body := map[string]any{
			"model":          f.Model,
			"response":       f.Response,
			"done":           true,
			"total_duration": 1_500_000,
			"eval_duration":  1_000_000,
		}
		writeJSON(w, body)
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"models": []map[string]any{{"name": f.Model, "model": f.Model}},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// WriteConfig writes a config pointing at the fake backend and returns its path
func WriteConfig(t *testing.T, ollamaURL, model, dbPath string, port int) string {
	t.Helper()
	configPath := TempConfigPath(t)

	config := fmt.Sprintf(`[general]
database_path = %q
max_concurrent_generations = 2

[generation]
provider = "ollama"
host = %q
model = %q
request_timeout = "30s"

[notifications]
desktop = false

[web]
port = %d
host = "127.0.0.1"
`, dbPath, ollamaURL, model, port)

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
