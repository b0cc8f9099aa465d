//go:build e2e
// +build e2e

package e2e

import (
	"bufio"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"dashing/internal/instance"
)

// SkipIfGoMissing skips the test if the go tool is not available to build the binary.
func SkipIfGoMissing(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("Skipping test: go not found in PATH")
	}
}

// BuildBinary compiles the dashing command into a temp dir and returns its path.
func BuildBinary(t *testing.T) string {
	t.Helper()
	SkipIfGoMissing(t)

	_, file, _, _ := runtime.Caller(0)
	moduleRoot := filepath.Join(filepath.Dir(file), "..", "..")

	bin := filepath.Join(t.TempDir(), "dashing")
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = moduleRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, out)
	}
	return bin
}

// FreePort returns a loopback port that was free a moment ago.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// Instance is a dashing server running as a child process.
type Instance struct {
	Bin       string
	ConfigDir string
	BaseURL   string
	cmd       *exec.Cmd
}

// StartInstance runs `dashing serve` with its own config dir and waits
// until the CLI can discover it.
func StartInstance(t *testing.T, bin, configYAML string) *Instance {
	t.Helper()

	configDir := t.TempDir()
	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}

	cmd := exec.Command(bin, "-c", configDir, "--log-level", "debug", "serve")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start dashing: %v", err)
	}
	inst := &Instance{Bin: bin, ConfigDir: configDir, cmd: cmd}
	t.Cleanup(inst.Stop)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if baseURL, err := instance.Discover(configDir); err == nil {
			inst.BaseURL = baseURL
			return inst
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("dashing did not become discoverable")
	return nil
}

// Run executes a CLI command against this instance's config dir.
func (i *Instance) Run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(i.Bin, append([]string{"-c", i.ConfigDir}, args...)...)
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Stop sends SIGINT and waits for the process to exit.
func (i *Instance) Stop() {
	if i.cmd.Process == nil || i.cmd.ProcessState != nil {
		return
	}
	_ = i.cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_ = i.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		_ = i.cmd.Process.Kill()
		<-done
	}
}

// ReadFrame reads one `data: ...\n\n` frame, skipping heartbeat comments.
func ReadFrame(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	for {
		var sb strings.Builder
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("reading frame: %v", err)
			}
			if line == "\n" {
				break
			}
			sb.WriteString(line)
		}
		frame := sb.String()
		if !strings.HasPrefix(frame, ":") {
			return frame
		}
	}
}
