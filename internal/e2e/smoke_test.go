package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roomPage struct {
	Total int `json:"total"`
	Items []struct {
		RoomID       string `json:"roomId"`
		FirstMessage string `json:"firstMessage"`
		MessageCount int    `json:"messageCount"`
	} `json:"items"`
}

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)
	apiURL := startRelay(t, binaryPath, home)

	stdout, stderr, err := runCocode(t, binaryPath, home, apiURL, "hello from e2e\n", "join", "smoke-room", "--wait", "10s")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "joined smoke-room")

	stdout, stderr, err = runCocode(t, binaryPath, home, apiURL, "", "prompt", "smoke-room", "summarise", "the", "file")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Completed!")

	stdout, stderr, err = runCocode(t, binaryPath, home, apiURL, "", "rooms", "--json")
	require.NoError(t, err, "stderr: %s", stderr)

	var page roomPage
	require.NoError(t, json.Unmarshal([]byte(stdout), &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "smoke-room", page.Items[0].RoomID)
	assert.Equal(t, "summarise the file", page.Items[0].FirstMessage)
	assert.Equal(t, 1, page.Items[0].MessageCount)
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "cocode-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/cocode")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build cocode binary: %s", string(output))
	return binaryPath
}

// startRelay runs `cocode serve` in memory on a free port and waits for it
// to answer health checks.
func startRelay(t *testing.T, binaryPath, home string) string {
	t.Helper()

	addr := freeAddr(t)
	var logs bytes.Buffer
	cmd := exec.Command(binaryPath, "serve", "--in-memory", "--listen", addr, "--agent-delay", "200ms")
	cmd.Env = append(os.Environ(), "HOME="+home)
	cmd.Stdout = &logs
	cmd.Stderr = &logs
	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
		if t.Failed() {
			t.Logf("relay output:\n%s", logs.String())
		}
	})

	apiURL := "http://" + addr
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/healthz", nil)
		if err != nil {
			return false
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond, "relay did not become healthy")

	return apiURL
}

func runCocode(t *testing.T, binaryPath, home, apiURL, stdin string, args ...string) (string, string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Env = append(os.Environ(), "HOME="+home, "COCODE_API_URL="+apiURL, "COCODE_TOKEN=", "COCODE_SYNC_URL=")
	cmd.Stdin = strings.NewReader(stdin)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func freeAddr(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())
	return fmt.Sprintf("127.0.0.1:%d", addr.Port)
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
