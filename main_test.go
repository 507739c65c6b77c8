// ABOUTME: Tests for the CLI command tree
// ABOUTME: Runs info against an httptest chunk server and checks flag handling
package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func emptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInfoCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tracks/t1/metadata" || r.URL.Query().Get("mode") != "chunked" {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "chunkplay/") {
			t.Errorf("unexpected User-Agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`{"duration":95,"total_chunks":12,"chunk_duration":10,"chunk_interval":8,"format":"flac"}`))
	}))
	defer server.Close()

	out, err := runCLI(t, "info", "t1",
		"--server", server.URL,
		"--config", emptyConfig(t),
		"--env-file", filepath.Join(t.TempDir(), "none.env"),
		"--log-level", "error")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}

	for _, want := range []string{"Duration: 95.00s", "Format:   flac", "Chunks:   12 x 10.00s every 8.00s (overlap 2.00s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInfoCommandJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"duration":30,"format":"mp3"}`))
	}))
	defer server.Close()

	out, err := runCLI(t, "info", "t1", "--mode", "enhanced", "--json",
		"--server", server.URL,
		"--config", emptyConfig(t),
		"--log-level", "error")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !strings.Contains(out, `"duration": 30`) || !strings.Contains(out, `"format": "mp3"`) {
		t.Errorf("unexpected JSON output:\n%s", out)
	}
}

func TestInfoCommandBadMode(t *testing.T) {
	_, err := runCLI(t, "info", "t1", "--mode", "hls", "--server", "http://127.0.0.1:1", "--config", emptyConfig(t))
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("expected unknown mode error, got %v", err)
	}
}

func TestPlayRequiresTrack(t *testing.T) {
	if _, err := runCLI(t, "play"); err == nil {
		t.Error("expected argument error")
	}
}

func TestPlayRejectsBadVolume(t *testing.T) {
	_, err := runCLI(t, "play", "t1", "--volume", "150", "--config", emptyConfig(t), "--no-tui")
	if err == nil || !strings.Contains(err.Error(), "volume") {
		t.Errorf("expected volume validation error, got %v", err)
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := runCLI(t, "info", "t1", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Error("expected error for missing config")
	}
}
