package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/llm"
	"github.com/kingrea/codeforge/internal/planner"
	"github.com/kingrea/codeforge/internal/wire"
)

const (
	scaffoldReply = "```json\n{\"src\": {\"main.rs\": \"entry\", \"lib.rs\": \"library\"}}\n```"
	planReply     = "```json\n{\"order\": [\"main.rs\", \"bad.txt\", \"lib.rs\"]}\n```"
	waitTimeout   = 3 * time.Second
)

// fakeBackend answers by recognising which prompt it received. When gate is
// set, calls whose kind matches gateKind block until a value is sent.
type fakeBackend struct {
	gate     chan struct{}
	gateKind string
	entered  chan string
	err      error
	codeText string
	calls    atomic.Int32
	current  atomic.Int32
	peak     atomic.Int32
}

func promptKind(messages []llm.Message) (string, string) {
	last := messages[len(messages)-1].Content
	// plan and codegen prompts also mention the folder structure, so the
	// scaffold phrase is checked last.
	switch {
	case strings.Contains(last, "order the files"):
		return "plan", ""
	case strings.Contains(last, "write the module `"):
		rest := last[strings.Index(last, "write the module `")+len("write the module `"):]
		return "codegen", rest[:strings.Index(rest, "`")]
	case strings.Contains(last, "write the project's folder structure"):
		return "scaffold", ""
	}
	return "unknown", ""
}

func (b *fakeBackend) Generate(ctx context.Context, _ string, messages []llm.Message) (string, error) {
	b.calls.Add(1)
	n := b.current.Add(1)
	defer b.current.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	kind, file := promptKind(messages)
	if b.entered != nil {
		b.entered <- kind
	}
	if b.gate != nil && (b.gateKind == "" || b.gateKind == kind) {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if b.err != nil {
		return "", b.err
	}
	switch kind {
	case "scaffold":
		return scaffoldReply, nil
	case "plan":
		return planReply, nil
	case "codegen":
		if b.codeText != "" {
			return b.codeText, nil
		}
		return "```rust\n// " + file + "\nfn main() {}\n```", nil
	}
	return "", errors.New("unexpected prompt")
}

func startWorker(t *testing.T, backend llm.Backend, opts ...Option) *Worker {
	t.Helper()
	p := planner.New(llm.NewRetryingGenerator(backend))
	w := New(p, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errs:
		case <-time.After(waitTimeout):
			t.Errorf("worker did not stop")
		}
	})
	return w
}

func submit(t *testing.T, w *Worker, msg wire.ClientMsg) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := w.Submit(ctx, msg); err != nil {
		t.Fatalf("submit %s: %v", msg.Kind(), err)
	}
}

// await reads the outbox until match accepts a message.
func await(t *testing.T, w *Worker, what string, match func(wire.ServerMsg) bool) wire.ServerMsg {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-w.Outbox():
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func awaitKind(t *testing.T, w *Worker, kind string) wire.ServerMsg {
	t.Helper()
	return await(t, w, kind, func(m wire.ServerMsg) bool { return m.Kind() == kind })
}

func awaitQueue(t *testing.T, w *Worker, what string, match func(*jobs.JobSet) bool) *jobs.JobSet {
	t.Helper()
	msg := await(t, w, what, func(m wire.ServerMsg) bool {
		return m.UpdateJobQueue != nil && match(m.UpdateJobQueue.Jobs)
	})
	return msg.UpdateJobQueue.Jobs
}

func names(list []jobs.Job) []string {
	out := make([]string, 0, len(list))
	for _, job := range list {
		out = append(out, job.Name)
	}
	return out
}

func TestInitPromptSchedulesCodeGenJobsInPlanOrder(t *testing.T) {
	backend := &fakeBackend{}
	w := startWorker(t, backend)
	if w.State() != Idle {
		t.Fatalf("new worker must be idle")
	}
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	awaitKind(t, w, "initPromptAck")
	set := awaitQueue(t, w, "codegen jobs", func(s *jobs.JobSet) bool { return len(s.Todo()) == 2 })
	if diff := cmp.Diff([]string{"main.rs", "lib.rs"}, names(set.Todo())); diff != "" {
		t.Fatalf("todo mismatch (-want +got):\n%s", diff)
	}
	if len(set.Done()) != 2 {
		t.Fatalf("scaffold and plan jobs must be done, got %v", names(set.Done()))
	}
	for _, job := range set.Todo() {
		if job.Type != jobs.TypeCodeGen || job.Request == nil || job.Request.Filename != job.Name {
			t.Fatalf("unexpected codegen job %+v", job)
		}
	}

	mainID := set.Todo()[0].ID
	submit(t, w, wire.ClientMsg{StartJob: &wire.StartJob{JobID: mainID.String()}})
	created := awaitKind(t, w, "createFile")
	if created.CreateFile.Filename != "main.rs" {
		t.Fatalf("created %q, want main.rs", created.CreateFile.Filename)
	}
	if begin := awaitKind(t, w, "beginStream"); begin.BeginStream.Filename != "main.rs" {
		t.Fatalf("unexpected beginStream %+v", begin.BeginStream)
	}
	var streamed strings.Builder
	for {
		msg := await(t, w, "stream", func(m wire.ServerMsg) bool { return m.StreamToken != nil || m.EndStream != nil })
		if msg.EndStream != nil {
			break
		}
		streamed.WriteString(msg.StreamToken.Token)
	}
	if streamed.String() != "// main.rs\nfn main() {}" {
		t.Fatalf("streamed %q", streamed.String())
	}
	set = awaitQueue(t, w, "main.rs done", func(s *jobs.JobSet) bool { return len(s.Done()) == 3 })
	if status, _ := set.Locate(mainID); status != jobs.StatusDone {
		t.Fatalf("main.rs status = %s", status)
	}
	// snapshots are published at the end of each loop iteration
	waitFor(t, "codebase snapshot", func() bool { return w.Snapshot().Codebase["main.rs"] != "" })
	if got := backend.calls.Load(); got != 3 {
		t.Fatalf("backend calls = %d, want 3", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopIsMarkOnlyAndDiscardsLateResult(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), gateKind: "scaffold"}
	w := startWorker(t, backend)
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	set := awaitQueue(t, w, "scaffold running", func(s *jobs.JobSet) bool { return len(s.InProgress()) == 1 })
	id := set.InProgress()[0].ID
	waitFor(t, "active state", func() bool { return w.State() == Active })

	submit(t, w, wire.ClientMsg{StopJob: &wire.StopJob{JobID: id.String()}})
	awaitQueue(t, w, "scaffold stopped", func(s *jobs.JobSet) bool { return len(s.Stopped()) == 1 })
	if w.State() != Active {
		t.Fatalf("stop must not cancel the running call")
	}

	backend.gate <- struct{}{}
	waitFor(t, "idle state", func() bool { return w.State() == Idle })
	submit(t, w, wire.ClientMsg{UpdateScaffold: &wire.UpdateScaffold{Scaffold: ""}})
	awaitKind(t, w, "commandAck")

	snap := w.Snapshot()
	if status, _ := snap.Jobs.Locate(id); status != jobs.StatusStopped {
		t.Fatalf("late result moved the job to %s", status)
	}
	if snap.Scaffold != "" || len(snap.Jobs.Done()) != 0 {
		t.Fatalf("late result must be discarded, scaffold=%q done=%d", snap.Scaffold, len(snap.Jobs.Done()))
	}
}

func TestRetryRequeuesAndIgnoresEarlierAttempt(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), gateKind: "scaffold", entered: make(chan string, 8)}
	w := startWorker(t, backend)
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	set := awaitQueue(t, w, "scaffold running", func(s *jobs.JobSet) bool { return len(s.InProgress()) == 1 })
	id := set.InProgress()[0].ID
	<-backend.entered

	submit(t, w, wire.ClientMsg{StopJob: &wire.StopJob{JobID: id.String()}})
	awaitQueue(t, w, "stopped", func(s *jobs.JobSet) bool { return len(s.Stopped()) == 1 })
	submit(t, w, wire.ClientMsg{RetryJob: &wire.RetryJob{JobID: id.String()}})
	set = awaitQueue(t, w, "retried", func(s *jobs.JobSet) bool { return len(s.InProgress()) == 1 })
	if job, _ := set.Get(id); job.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", job.Attempt)
	}
	<-backend.entered

	backend.gate <- struct{}{}
	backend.gate <- struct{}{}
	set = awaitQueue(t, w, "scaffold done", func(s *jobs.JobSet) bool {
		status, _ := s.Locate(id)
		return status == jobs.StatusDone
	})
	if len(set.Done()) != 1 {
		t.Fatalf("scaffold must complete exactly once, done=%v", names(set.Done()))
	}
}

func TestFailedGenerationLandsInStopped(t *testing.T) {
	backend := &fakeBackend{err: &llm.HTTPError{StatusCode: 503, Body: "unavailable"}}
	w := startWorker(t, backend)
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	failed := awaitKind(t, w, "jobFailed")
	if !strings.Contains(failed.JobFailed.Error, "503") {
		t.Fatalf("unexpected failure text %q", failed.JobFailed.Error)
	}
	set := awaitQueue(t, w, "failed job stopped", func(s *jobs.JobSet) bool { return len(s.Stopped()) == 1 })
	job := set.Stopped()[0]
	if job.ID.String() != failed.JobFailed.JobID || job.Error == "" {
		t.Fatalf("stopped job must carry the error, got %+v", job)
	}
	if got := backend.calls.Load(); got != 1 {
		t.Fatalf("backend errors must not be retried, calls = %d", got)
	}
}

func TestExhaustedExtractionLandsInStopped(t *testing.T) {
	backend := &fakeBackend{codeText: "I cannot write that file."}
	w := startWorker(t, backend)
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	set := awaitQueue(t, w, "codegen jobs", func(s *jobs.JobSet) bool { return len(s.Todo()) == 2 })
	before := backend.calls.Load()
	id := set.Todo()[0].ID
	submit(t, w, wire.ClientMsg{StartJob: &wire.StartJob{JobID: id.String()}})
	failed := awaitKind(t, w, "jobFailed")
	if failed.JobFailed.JobID != id.String() {
		t.Fatalf("failed job = %s, want %s", failed.JobFailed.JobID, id)
	}
	if got := backend.calls.Load() - before; got != llm.DefaultMaxAttempts {
		t.Fatalf("codegen calls = %d, want %d", got, llm.DefaultMaxAttempts)
	}
}

func TestCommandErrors(t *testing.T) {
	w := startWorker(t, &fakeBackend{})
	users := interfaces.NewDatabase(interfaces.Database{Name: "users", DBType: "MySql"})

	tests := []struct {
		name    string
		msg     wire.ClientMsg
		command string
		kind    string
	}{
		{"bad uuid", wire.ClientMsg{StartJob: &wire.StartJob{JobID: "abc"}}, "startJob", wire.ErrorInvalidCommand},
		{"unknown job", wire.ClientMsg{StopJob: &wire.StopJob{JobID: uuid.NewString()}}, "stopJob", wire.ErrorNotFound},
		{"retry unknown", wire.ClientMsg{RetryJob: &wire.RetryJob{JobID: uuid.NewString()}}, "retryJob", wire.ErrorNotFound},
		{"missing interface", wire.ClientMsg{RemoveInterface: &wire.RemoveInterface{InterfaceName: "nope"}}, "removeInterface", wire.ErrorNotFound},
		{"schema on missing interface", wire.ClientMsg{AddSchema: &wire.AddSchema{InterfaceName: "nope", SchemaName: "s"}}, "addSchema", wire.ErrorNotFound},
		{"empty prompt", wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "  "}}, "initPrompt", wire.ErrorInvalidCommand},
		{"missing file", wire.ClientMsg{RemoveSourceFile: &wire.RemoveSourceFile{Filename: "x.rs"}}, "removeSourceFile", wire.ErrorNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			submit(t, w, tc.msg)
			msg := awaitKind(t, w, "commandError")
			if msg.CommandError.Command != tc.command || msg.CommandError.Kind != tc.kind {
				t.Fatalf("got %+v, want command=%s kind=%s", msg.CommandError, tc.command, tc.kind)
			}
		})
	}

	submit(t, w, wire.ClientMsg{AddInterface: &wire.AddInterface{Interface: users}})
	if ack := awaitKind(t, w, "addInterfaceAck"); ack.AddInterfaceAck.InterfaceName != "users" || !ack.AddInterfaceAck.Success {
		t.Fatalf("unexpected ack %+v", ack.AddInterfaceAck)
	}
	submit(t, w, wire.ClientMsg{AddInterface: &wire.AddInterface{Interface: users}})
	if msg := awaitKind(t, w, "commandError"); msg.CommandError.Kind != wire.ErrorStateConflict {
		t.Fatalf("duplicate interface kind = %s", msg.CommandError.Kind)
	}
	submit(t, w, wire.ClientMsg{AddSchema: &wire.AddSchema{InterfaceName: "users", SchemaName: "accounts", Schema: "CREATE TABLE a();"}})
	if ack := awaitKind(t, w, "addSchemaAck"); ack.AddSchemaAck.SchemaName != "accounts" {
		t.Fatalf("unexpected schema ack %+v", ack.AddSchemaAck)
	}
	waitFor(t, "schema in snapshot", func() bool {
		iface, ok := w.Snapshot().Interfaces["users"]
		return ok && iface.Schemas()["accounts"] != ""
	})
}

func TestStopOnTodoJobIsInvalidTransition(t *testing.T) {
	w := startWorker(t, &fakeBackend{})
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	set := awaitQueue(t, w, "codegen jobs", func(s *jobs.JobSet) bool { return len(s.Todo()) == 2 })
	id := set.Todo()[0].ID
	submit(t, w, wire.ClientMsg{StopJob: &wire.StopJob{JobID: id.String()}})
	if msg := awaitKind(t, w, "commandError"); msg.CommandError.Kind != wire.ErrorInvalidTransition {
		t.Fatalf("kind = %s, want invalidTransition", msg.CommandError.Kind)
	}
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "again"}})
	if msg := awaitKind(t, w, "commandError"); msg.CommandError.Kind != wire.ErrorStateConflict {
		t.Fatalf("second prompt kind = %s, want stateConflict", msg.CommandError.Kind)
	}
}

func TestMaxInFlightBoundsConcurrentCalls(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), gateKind: "codegen", entered: make(chan string, 16)}
	w := startWorker(t, backend, WithMaxInFlight(1), WithAutoStart(true))
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	deadline := time.After(waitTimeout)
	for waiting := true; waiting; {
		select {
		case kind := <-backend.entered:
			waiting = kind != "codegen"
		case <-deadline:
			t.Fatalf("timed out waiting for the first codegen call")
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got := backend.current.Load(); got != 1 {
		t.Fatalf("concurrent calls = %d, want 1", got)
	}
	backend.gate <- struct{}{}
	backend.gate <- struct{}{}
	awaitQueue(t, w, "all done", func(s *jobs.JobSet) bool { return len(s.Done()) == 4 })
	if peak := backend.peak.Load(); peak != 1 {
		t.Fatalf("peak concurrency = %d, want 1", peak)
	}
}

func TestTokensKeepLineBreaks(t *testing.T) {
	got := Tokens("a\nb\n")
	if diff := cmp.Diff([]string{"a\n", "b\n"}, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if Tokens("") != nil {
		t.Fatalf("empty code yields no tokens")
	}
}

func TestJobCommandAckPrecedesQueueUpdate(t *testing.T) {
	w := startWorker(t, &fakeBackend{})
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	set := awaitQueue(t, w, "codegen jobs", func(s *jobs.JobSet) bool { return len(s.Todo()) == 2 })
	id := set.Todo()[0].ID

	submit(t, w, wire.ClientMsg{StartJob: &wire.StartJob{JobID: id.String()}})
	ack := await(t, w, "startJob reply", func(m wire.ServerMsg) bool {
		return m.CommandAck != nil || m.UpdateJobQueue != nil
	})
	if ack.CommandAck == nil || ack.CommandAck.Command != "startJob" {
		t.Fatalf("expected commandAck first, got %s", ack.Kind())
	}
	awaitQueue(t, w, "job running or done", func(s *jobs.JobSet) bool {
		status, _ := s.Locate(id)
		return status == jobs.StatusInProgress || status == jobs.StatusDone
	})
}

func TestSecondPromptWhileScaffoldRunsIsStateConflict(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), gateKind: "scaffold", entered: make(chan string, 8)}
	w := startWorker(t, backend)
	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "a todo api"}})
	awaitKind(t, w, "initPromptAck")
	<-backend.entered

	submit(t, w, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: "something else"}})
	msg := awaitKind(t, w, "commandError")
	if msg.CommandError.Command != "initPrompt" || msg.CommandError.Kind != wire.ErrorStateConflict {
		t.Fatalf("got %+v, want initPrompt stateConflict", msg.CommandError)
	}
	if specs := w.Snapshot().Specs; specs != "a todo api" {
		t.Fatalf("specs overwritten: %q", specs)
	}

	backend.gate <- struct{}{}
	set := awaitQueue(t, w, "codegen jobs", func(s *jobs.JobSet) bool { return len(s.Todo()) == 2 })
	if len(set.Done()) != 2 {
		t.Fatalf("expected one scaffold and one plan job, got %v", names(set.Done()))
	}
	if got := backend.calls.Load(); got != 2 {
		t.Fatalf("backend calls = %d, want 2", got)
	}
}

type recordingJournal struct {
	mu    sync.Mutex
	lines []string
}

func (j *recordingJournal) record(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, fmt.Sprintf(format, args...))
}

func (j *recordingJournal) Info(format string, args ...any)  { j.record(format, args...) }
func (j *recordingJournal) Warn(format string, args ...any)  { j.record(format, args...) }
func (j *recordingJournal) Error(format string, args ...any) { j.record(format, args...) }

func (j *recordingJournal) contains(s string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, line := range j.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func TestCommandsAreJournaledByJobType(t *testing.T) {
	journal := &recordingJournal{}
	w := startWorker(t, &fakeBackend{}, WithJournal(journal))
	users := interfaces.NewDatabase(interfaces.Database{Name: "users", DBType: "MySql"})

	submit(t, w, wire.ClientMsg{AddInterface: &wire.AddInterface{Interface: users}})
	awaitKind(t, w, "addInterfaceAck")
	submit(t, w, wire.ClientMsg{AddSourceFile: &wire.AddSourceFile{Filename: "main.rs", File: "fn main() {}"}})
	awaitKind(t, w, "commandAck")
	submit(t, w, wire.ClientMsg{UpdateScaffold: &wire.UpdateScaffold{Scaffold: "{}"}})
	awaitKind(t, w, "commandAck")

	for _, want := range []string{"AddInterface applied: users", "AddSourceFile applied: main.rs"} {
		if !journal.contains(want) {
			t.Fatalf("journal missing %q", want)
		}
	}
	if journal.contains("updateScaffold") {
		t.Fatalf("commands without a job type are not journaled")
	}
}
