package main

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelRouter(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := slog.New(newLevelRouter(&out, &errOut, slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("hello", "swap", "s1")
	logger.Warn("careful")
	logger.Error("broken")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "swap=s1")
	assert.Contains(t, out.String(), "careful")
	assert.NotContains(t, out.String(), "broken")
	assert.Contains(t, errOut.String(), "broken")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	envFile := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, writeFile(envFile, ""))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--env", envFile}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInitSeedSweep(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")

	out, err := runCLI(t, "init", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Database created")

	_, err = runCLI(t, "init", "--db", dbPath)
	assert.ErrorContains(t, err, "already exists")

	out, err = runCLI(t, "seed", "--db", dbPath, filepath.Join("..", "..", "internal", "seed", "testdata", "catalog.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Created 2 members and 3 items"), out)

	out, err = runCLI(t, "sweep", "--db", dbPath, "--pending-ttl", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Expired 0 swap requests")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestServeWaitsForRequestsAndWorkers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusNoContent)
	})}

	var workerStopped atomic.Bool
	worker := func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		workerStopped.Store(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, server, ln, worker) }()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-entered
	cancel()

	select {
	case <-done:
		t.Fatal("serve returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, http.StatusNoContent, <-status)
	require.NoError(t, <-done)
	assert.True(t, workerStopped.Load(), "serve must wait for its workers")
}
