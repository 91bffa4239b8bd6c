package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	assetDir   string
	stateDir   string
	server     *httptest.Server
}

// setupCLITestEnv writes a config whose worker is this test binary running
// TestHelperProcess and whose catalog points at a local HTTP server.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("AER_WORKER_BINARY", "")
	t.Setenv("AER_LOG_LEVEL", "")

	mux := http.NewServeMux()
	mux.HandleFunc("/alpha.bin", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ABCD"))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/alpha.bin", http.StatusFound)
	})
	mux.HandleFunc("/tool.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tool"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "aer.toml"),
		assetDir:   filepath.Join(base, "models"),
		stateDir:   filepath.Join(base, "state"),
		server:     srv,
	}

	catalogPath := filepath.Join(base, "catalog.toml")
	catalog := fmt.Sprintf(`version = 1

[[assets]]
id = "alpha"
name = "Alpha"
size_bytes = 4
url = %q
filename = "alpha.bin"
required = true

[[assets]]
id = "beta"
name = "Beta"
size_bytes = 4
url = %q
filename = "beta.bin"

[[assets]]
id = "broken"
size_bytes = 4
url = %q
filename = "broken.bin"
`, srv.URL+"/moved", srv.URL+"/alpha.bin", srv.URL+"/missing")
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cfg := fmt.Sprintf(`[paths]
asset_dir = %q
state_dir = %q
log_dir = %q

[worker]
binary = %q
args = ["-test.run=TestHelperProcess", "--"]
env = ["GO_WANT_HELPER_PROCESS=1"]
auto_start = true
stop_timeout_seconds = 2

[downloads]
user_agent = "aer-test"
parallel = 2

[catalog]
path = %q

[logging]
level = "error"
`, env.assetDir, env.stateDir, filepath.Join(base, "logs"), os.Args[0], catalogPath)
	if err := os.WriteFile(env.configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if env != nil {
		flags = append(flags, "--config", env.configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
