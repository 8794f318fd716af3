// Package integration drives a built hlsgrab binary against a local origin.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"
)

// fakeFFmpeg copies its first input to its last argument.
const fakeFFmpeg = `#!/bin/sh
in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ] && [ -z "$in" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cat "$in" > "$out"
`

// TestHarness manages an origin server and hlsgrab instances.
type TestHarness struct {
	t          *testing.T
	binary     string
	originDir  string
	originPort int
	origin     *http.Server
	ffmpeg     string
	instances  []*Instance
}

// Instance is one running hlsgrab -serve process.
type Instance struct {
	ID        string
	HTTPPort  int
	OutputDir string
	Cmd       *exec.Cmd
	Cancel    context.CancelFunc
}

// URL returns the address of path on the instance.
func (i *Instance) URL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", i.HTTPPort, path)
}

// NewTestHarness creates a harness. The test is skipped unless the hlsgrab
// binary has been built.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg requires a POSIX shell")
	}

	h := &TestHarness{
		t:          t,
		binary:     findBinary(t),
		originDir:  t.TempDir(),
		originPort: findAvailablePort(t),
	}

	h.ffmpeg = filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(h.ffmpeg, []byte(fakeFFmpeg), 0o755); err != nil {
		t.Fatalf("failed to write fake ffmpeg: %v", err)
	}

	t.Cleanup(h.Cleanup)
	return h
}

// StartOrigin serves files (path -> content) over HTTP.
func (h *TestHarness) StartOrigin(files map[string]string) {
	h.t.Helper()

	for name, content := range files {
		path := filepath.Join(h.originDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			h.t.Fatalf("failed to create origin dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			h.t.Fatalf("failed to write origin file: %v", err)
		}
	}

	h.origin = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", h.originPort),
		Handler: http.FileServer(http.Dir(h.originDir)),
	}

	go func() {
		if err := h.origin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("origin server error: %v", err)
		}
	}()

	waitForServer(h.t, h.OriginURL("/"), 5*time.Second)
}

// OriginURL returns the origin address of path.
func (h *TestHarness) OriginURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", h.originPort, path)
}

// StartInstance runs hlsgrab -serve with extra arguments.
func (h *TestHarness) StartInstance(id string, args ...string) *Instance {
	h.t.Helper()

	inst := &Instance{
		ID:        id,
		HTTPPort:  findAvailablePort(h.t),
		OutputDir: h.t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst.Cancel = cancel

	base := []string{
		"-serve",
		"-env-file", "",
		"-port", strconv.Itoa(inst.HTTPPort),
		"-ffmpeg", h.ffmpeg,
		"-output-dir", inst.OutputDir,
		"-work-dir", h.t.TempDir(),
	}
	inst.Cmd = exec.CommandContext(ctx, h.binary, append(base, args...)...)
	inst.Cmd.Stdout = os.Stdout
	inst.Cmd.Stderr = os.Stderr

	if err := inst.Cmd.Start(); err != nil {
		cancel()
		h.t.Fatalf("failed to start %s: %v", id, err)
	}
	h.instances = append(h.instances, inst)
	return inst
}

// WaitReady blocks until every instance answers /health.
func (h *TestHarness) WaitReady() {
	h.t.Helper()
	for _, inst := range h.instances {
		waitForServer(h.t, inst.URL("/health"), 10*time.Second)
	}
}

// RunCLI runs hlsgrab once and returns its standard output.
func (h *TestHarness) RunCLI(args ...string) (string, error) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := []string{"-env-file", "", "-no-progress", "-ffmpeg", h.ffmpeg, "-work-dir", h.t.TempDir()}
	cmd := exec.CommandContext(ctx, h.binary, append(base, args...)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	return stdout.String(), err
}

// PostJSON posts body to url and decodes the JSON reply.
func PostJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// Health fetches and decodes an instance's /health endpoint.
func Health(inst *Instance) (map[string]any, error) {
	resp, err := http.Get(inst.URL("/health"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitForCondition polls until a condition is met or timeout occurs.
func (h *TestHarness) WaitForCondition(condition func() bool, timeout time.Duration, description string) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !condition() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timeout waiting for condition: %s", description)
		}
		<-ticker.C
	}
}

// Cleanup stops all running services.
func (h *TestHarness) Cleanup() {
	for _, inst := range h.instances {
		inst.Cancel()
		if inst.Cmd.Process != nil {
			inst.Cmd.Process.Kill()
			inst.Cmd.Wait()
		}
	}
	h.instances = nil

	if h.origin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.origin.Shutdown(ctx)
	}
}

// findBinary locates the hlsgrab binary.
func findBinary(t *testing.T) string {
	t.Helper()

	candidates := []string{
		"../../hlsgrab", // From test/integration
		"./hlsgrab",     // From project root
		"./cmd/hlsgrab/hlsgrab",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, _ := filepath.Abs(path)
			t.Logf("Found hlsgrab binary at: %s", absPath)
			return absPath
		}
	}

	t.Skip("hlsgrab binary not found. Run 'go build -o hlsgrab ./cmd/hlsgrab' first")
	return ""
}

// waitForServer waits for a server to become available.
func waitForServer(t *testing.T, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
