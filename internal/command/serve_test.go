package command

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/codeforge/internal/config"
	"github.com/kingrea/codeforge/internal/llm"
	"github.com/kingrea/codeforge/internal/logging"
	"github.com/kingrea/codeforge/internal/server"
	"github.com/kingrea/codeforge/internal/statusapi"
)

type running struct {
	dir   string
	addr  string
	stack *stack
}

func startStack(t *testing.T, backend llm.Backend) running {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, config.InitDir(dir))
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	logger, err := logging.New(dir)
	require.NoError(t, err)

	st, err := assemble(cfg, backend, logger,
		server.Settings{Host: "127.0.0.1", Port: 0},
		statusapi.Settings{Enabled: true, Host: "127.0.0.1", Port: 0},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- st.run(ctx, func(addr string) { ready <- addr })
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("stack exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("stack did not become ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("stack did not stop")
		}
		_ = logger.Close()
	})
	return running{dir: dir, addr: addr, stack: st}
}

func offlineBackend() llm.Backend {
	return llm.BackendFunc(func(ctx context.Context, system string, messages []llm.Message) (string, error) {
		return "", errors.New("offline")
	})
}

func (r running) send(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{"--dir", r.dir, "--addr", r.addr, "--timeout", "5s", "send"}
	return executeCommand(NewRootCmd("test"), append(base, args...)...)
}

func TestSendAddFileIsAcknowledged(t *testing.T) {
	r := startStack(t, offlineBackend())
	src := filepath.Join(r.dir, "main.rs")
	require.NoError(t, os.WriteFile(src, []byte("fn main() {}\n"), 0o644))

	output, err := r.send(t, "add-file", "main.rs", src)
	require.NoError(t, err)
	require.Contains(t, output, "addSourceFile ok")

	require.Eventually(t, func() bool {
		return r.stack.worker.Snapshot().Codebase["main.rs"] == "fn main() {}\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendReportsCommandErrors(t *testing.T) {
	r := startStack(t, offlineBackend())

	_, err := r.send(t, "start", "not-a-uuid")
	require.Error(t, err)
	require.Contains(t, err.Error(), "startJob rejected (invalidCommand)")

	_, err = r.send(t, "remove-interface", "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "notFound")
}

func TestSendJSONPrintsReply(t *testing.T) {
	r := startStack(t, offlineBackend())

	scaffold := filepath.Join(r.dir, "scaffold.txt")
	require.NoError(t, os.WriteFile(scaffold, []byte("src/\n  main.rs\n"), 0o644))

	output, err := r.send(t, "--json", "scaffold", scaffold)
	require.NoError(t, err)
	var reply map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(output), &reply))
	require.Equal(t, "updateScaffold", reply["commandAck"]["command"])
}

func TestSendPromptQueuesScaffoldJob(t *testing.T) {
	r := startStack(t, offlineBackend())

	output, err := r.send(t, "prompt", "a todo list service")
	require.NoError(t, err)
	require.Contains(t, output, "initPrompt ok")

	require.Eventually(t, func() bool {
		set := r.stack.worker.Snapshot().Jobs
		return set.Len() == 1 && len(set.Stopped()) == 1
	}, 5*time.Second, 10*time.Millisecond, "the failed scaffold job should end up stopped")
	job := r.stack.worker.Snapshot().Jobs.Stopped()[0]
	require.Contains(t, job.Error, "offline")
}

func TestStatusAPIServesHealth(t *testing.T) {
	r := startStack(t, offlineBackend())
	addr := r.stack.status.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "idle", body["worker"])
}

func TestJournalRecordsStartup(t *testing.T) {
	r := startStack(t, offlineBackend())
	lines, _ := r.stack.journal.Tail(10)
	require.NotEmpty(t, lines)
	require.True(t, strings.Contains(strings.Join(lines, "\n"), "worker started on "+r.addr))
}
