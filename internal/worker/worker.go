// Package worker runs the single-owner event loop that applies client
// commands to the project state and multiplexes generation calls.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/llm"
	"github.com/kingrea/codeforge/internal/planner"
	"github.com/kingrea/codeforge/internal/project"
	"github.com/kingrea/codeforge/internal/wire"
)

// State reports whether generation calls are in flight.
type State int32

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

const (
	defaultInboxSize  = 64
	defaultOutboxSize = 256
)

// ErrStopped is returned by Submit once the loop has exited.
var ErrStopped = errors.New("worker: loop stopped")

// Logger is the subset of logging used by the worker.
type Logger interface {
	Printf(format string, args ...any)
}

// Journal records job lifecycle events. *logbook.Logbook satisfies it.
type Journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopJournal struct{}

func (nopJournal) Info(string, ...any)  {}
func (nopJournal) Warn(string, ...any)  {}
func (nopJournal) Error(string, ...any) {}

type completion struct {
	jobID   uuid.UUID
	attempt int
	req     jobs.Request
	result  llm.Result
	err     error
}

// Worker owns the project state. Only the Run goroutine touches it; other
// goroutines read published snapshots.
type Worker struct {
	planner   *planner.Planner
	logger    Logger
	journal   Journal
	sem       *semaphore.Weighted
	autoStart bool

	inbox       chan wire.ClientMsg
	outbox      chan wire.ServerMsg
	completions chan completion
	done        chan struct{}

	state    *project.State
	inFlight int
	status   atomic.Int32
	runCtx   context.Context

	mu       sync.RWMutex
	snapshot *project.State
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithJournal records job lifecycle events.
func WithJournal(j Journal) Option {
	return func(w *Worker) {
		if j != nil {
			w.journal = j
		}
	}
}

// WithMaxInFlight bounds concurrent backend calls. n <= 0 leaves fan-out
// unbounded.
func WithMaxInFlight(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithAutoStart starts CodeGen jobs as soon as the execution plan lands.
func WithAutoStart(enabled bool) Option {
	return func(w *Worker) {
		w.autoStart = enabled
	}
}

// WithOutboxSize sets the outbound channel buffer.
func WithOutboxSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.outbox = make(chan wire.ServerMsg, n)
		}
	}
}

// New builds an idle worker with empty state.
func New(p *planner.Planner, opts ...Option) *Worker {
	w := &Worker{
		planner:     p,
		logger:      nopLogger{},
		journal:     nopJournal{},
		inbox:       make(chan wire.ClientMsg, defaultInboxSize),
		outbox:      make(chan wire.ServerMsg, defaultOutboxSize),
		completions: make(chan completion),
		done:        make(chan struct{}),
		state:       project.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.snapshot = w.state.Snapshot()
	return w
}

// State reports Idle or Active.
func (w *Worker) State() State {
	return State(w.status.Load())
}

// Outbox delivers messages for clients.
func (w *Worker) Outbox() <-chan wire.ServerMsg {
	return w.outbox
}

// Snapshot returns the last published copy of the project state.
func (w *Worker) Snapshot() *project.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Submit queues a command. It blocks while the inbox is full.
func (w *Worker) Submit(ctx context.Context, msg wire.ClientMsg) error {
	select {
	case w.inbox <- msg:
		return nil
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands and completions until ctx is cancelled. In-flight
// calls are not awaited on exit.
func (w *Worker) Run(ctx context.Context) error {
	w.runCtx = ctx
	defer close(w.done)
	w.logger.Printf("worker: loop started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("worker: loop stopped (%d call(s) in flight)", w.inFlight)
			return ctx.Err()
		case msg := <-w.inbox:
			w.dispatch(msg)
		case c := <-w.completions:
			w.complete(c)
		}
		w.publish()
	}
}

func (w *Worker) dispatch(msg wire.ClientMsg) {
	if err := msg.Validate(); err != nil {
		w.reject("", wire.ErrorInvalidCommand, err)
		return
	}
	switch {
	case msg.InitPrompt != nil:
		w.handleInitPrompt(*msg.InitPrompt)
	case msg.AddInterface != nil:
		iface := msg.AddInterface.Interface
		if err := w.state.AddInterface(iface); err != nil {
			w.reject("addInterface", classify(err), err)
			return
		}
		w.applied("addInterface", iface.Name())
		w.emit(wire.ServerMsg{AddInterfaceAck: &wire.AddInterfaceAck{InterfaceName: iface.Name(), Success: true}})
	case msg.RemoveInterface != nil:
		if err := w.state.RemoveInterface(msg.RemoveInterface.InterfaceName); err != nil {
			w.reject("removeInterface", classify(err), err)
			return
		}
		w.applied("removeInterface", msg.RemoveInterface.InterfaceName)
		w.ack("removeInterface")
	case msg.AddSchema != nil:
		cmd := msg.AddSchema
		if err := w.state.AddSchema(cmd.InterfaceName, cmd.SchemaName, cmd.Schema); err != nil {
			w.reject("addSchema", classify(err), err)
			return
		}
		w.applied("addSchema", cmd.InterfaceName+"/"+cmd.SchemaName)
		w.emit(wire.ServerMsg{AddSchemaAck: &wire.AddSchemaAck{SchemaName: cmd.SchemaName, Success: true}})
	case msg.RemoveSchema != nil:
		cmd := msg.RemoveSchema
		if err := w.state.RemoveSchema(cmd.InterfaceName, cmd.SchemaName); err != nil {
			w.reject("removeSchema", classify(err), err)
			return
		}
		w.applied("removeSchema", cmd.InterfaceName+"/"+cmd.SchemaName)
		w.ack("removeSchema")
	case msg.AddSourceFile != nil:
		if strings.TrimSpace(msg.AddSourceFile.Filename) == "" {
			w.reject("addSourceFile", wire.ErrorInvalidCommand, fmt.Errorf("worker: filename is required"))
			return
		}
		w.state.AddSourceFile(msg.AddSourceFile.Filename, msg.AddSourceFile.File)
		w.applied("addSourceFile", msg.AddSourceFile.Filename)
		w.ack("addSourceFile")
	case msg.RemoveSourceFile != nil:
		if err := w.state.RemoveSourceFile(msg.RemoveSourceFile.Filename); err != nil {
			w.reject("removeSourceFile", classify(err), err)
			return
		}
		w.applied("removeSourceFile", msg.RemoveSourceFile.Filename)
		w.ack("removeSourceFile")
	case msg.UpdateScaffold != nil:
		w.state.SetScaffold(msg.UpdateScaffold.Scaffold)
		w.ack("updateScaffold")
	case msg.StartJob != nil:
		w.handleJobCommand("startJob", msg.StartJob.JobID, w.startJob)
	case msg.StopJob != nil:
		w.handleJobCommand("stopJob", msg.StopJob.JobID, w.stopJob)
	case msg.RetryJob != nil:
		w.handleJobCommand("retryJob", msg.RetryJob.JobID, w.retryJob)
	}
}

func (w *Worker) handleInitPrompt(cmd wire.InitPrompt) {
	prompt := strings.TrimSpace(cmd.Prompt)
	if prompt == "" {
		w.reject("initPrompt", wire.ErrorInvalidCommand, fmt.Errorf("worker: prompt is empty"))
		return
	}
	if w.state.Scaffold != "" {
		w.reject("initPrompt", wire.ErrorStateConflict, fmt.Errorf("worker: scaffold already exists"))
		return
	}
	if job, pending := w.pendingSetup(); pending {
		w.reject("initPrompt", wire.ErrorStateConflict, fmt.Errorf("worker: %q is still %s", job.Name, job.Status))
		return
	}
	w.state.SetSpecs(prompt)
	id := w.state.Jobs.NewTodo("Scaffold project", jobs.ScaffoldRequest(prompt))
	w.journal.Info("job %s registered: scaffold", id)
	if err := w.startJob(id); err != nil {
		w.reject("initPrompt", classify(err), err)
		return
	}
	w.emit(wire.ServerMsg{InitPromptAck: &wire.InitPromptAck{Success: true}})
	w.emitQueue()
}

// pendingSetup finds a scaffold or execution plan job that has not finished.
func (w *Worker) pendingSetup() (jobs.Job, bool) {
	for _, list := range [][]jobs.Job{w.state.Jobs.InProgress(), w.state.Jobs.Todo()} {
		for _, job := range list {
			if job.Type == jobs.TypeScaffold || job.Type == jobs.TypeBuildExecutionPlan {
				return job, true
			}
		}
	}
	return jobs.Job{}, false
}

func (w *Worker) handleJobCommand(command, rawID string, fn func(uuid.UUID) error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		w.reject(command, wire.ErrorInvalidCommand, fmt.Errorf("worker: invalid job id %q: %w", rawID, err))
		return
	}
	if err := fn(id); err != nil {
		w.reject(command, classify(err), err)
		return
	}
	w.applied(command, id.String())
	w.ack(command)
	w.emitQueue()
}

// startJob moves a todo job to inProgress and launches its generation call.
// The prompt is assembled here so the goroutine never reads shared state.
func (w *Worker) startJob(id uuid.UUID) error {
	req, err := w.state.Jobs.StartByID(id)
	if err != nil {
		return err
	}
	job, _ := w.state.Jobs.Get(id)
	call, err := w.prepare(req)
	if err != nil {
		w.fail(id, err)
		return nil
	}
	w.journal.Info("job %s started: %s %s (attempt %d)", id, req.Type, req.Filename, job.Attempt)
	w.launch(id, job.Attempt, req, call)
	return nil
}

func (w *Worker) stopJob(id uuid.UUID) error {
	if err := w.state.Jobs.StopByID(id); err != nil {
		return err
	}
	w.journal.Warn("job %s stopped; its backend call keeps running and the result will be discarded", id)
	return nil
}

func (w *Worker) retryJob(id uuid.UUID) error {
	if err := w.state.Jobs.RequeueByID(id); err != nil {
		return err
	}
	w.journal.Info("job %s requeued", id)
	return w.startJob(id)
}

func (w *Worker) prepare(req jobs.Request) (planner.Call, error) {
	if !req.Type.Generative() {
		return planner.Call{}, fmt.Errorf("worker: job type %s does not generate", req.Type)
	}
	pc := w.state.PlannerContext()
	switch req.Type {
	case jobs.TypeScaffold:
		if req.Prompt != "" {
			pc.Specs = req.Prompt
		}
		return w.planner.ScaffoldCall(pc)
	case jobs.TypeBuildExecutionPlan:
		return w.planner.PlanCall(pc)
	case jobs.TypeCodeGen:
		return w.planner.CodeGenCall(pc, req.Filename)
	default:
		return planner.Call{}, fmt.Errorf("worker: no prompt for job type %s", req.Type)
	}
}

func (w *Worker) launch(id uuid.UUID, attempt int, req jobs.Request, call planner.Call) {
	ctx := w.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	w.inFlight++
	w.status.Store(int32(Active))
	go func() {
		c := completion{jobID: id, attempt: attempt, req: req}
		if w.sem != nil {
			if err := w.sem.Acquire(ctx, 1); err != nil {
				c.err = err
				w.deliver(ctx, c)
				return
			}
			defer w.sem.Release(1)
		}
		c.result, c.err = w.planner.Run(ctx, call)
		w.deliver(ctx, c)
	}()
}

func (w *Worker) deliver(ctx context.Context, c completion) {
	select {
	case w.completions <- c:
	case <-ctx.Done():
	}
}

func (w *Worker) complete(c completion) {
	w.inFlight--
	if w.inFlight == 0 {
		w.status.Store(int32(Idle))
	}
	status, found := w.state.Jobs.Locate(c.jobID)
	job, _ := w.state.Jobs.Get(c.jobID)
	if !found || status != jobs.StatusInProgress || job.Attempt != c.attempt {
		w.logger.Printf("worker: discarding stale completion for job %s (attempt %d, now %s)", c.jobID, c.attempt, status)
		return
	}
	if c.err != nil {
		w.fail(c.jobID, c.err)
		return
	}
	var err error
	switch c.req.Type {
	case jobs.TypeScaffold:
		err = w.completeScaffold(c)
	case jobs.TypeBuildExecutionPlan:
		err = w.completePlan(c)
	case jobs.TypeCodeGen:
		err = w.completeCodeGen(c)
	default:
		err = fmt.Errorf("worker: unexpected completion for %s", c.req.Type)
	}
	if err != nil {
		w.fail(c.jobID, err)
	}
}

func (w *Worker) completeScaffold(c completion) error {
	scaffold, err := planner.ScaffoldFromResult(c.result)
	if err != nil {
		return err
	}
	if err := w.state.Jobs.FinishByID(c.jobID); err != nil {
		return err
	}
	w.state.SetScaffold(scaffold)
	w.journal.Info("job %s done: scaffold stored", c.jobID)
	id := w.state.Jobs.NewTodo("Build execution plan", jobs.ExecutionPlanRequest())
	if err := w.startJob(id); err != nil {
		w.logger.Printf("worker: start execution plan: %v", err)
	}
	w.emitQueue()
	return nil
}

func (w *Worker) completePlan(c completion) error {
	plan, err := w.planner.PlanFromResult(c.result)
	if err != nil {
		return err
	}
	if err := w.state.Jobs.FinishByID(c.jobID); err != nil {
		return err
	}
	for _, warning := range plan.Warnings {
		w.journal.Warn("execution plan: %s", warning)
	}
	ids := make([]uuid.UUID, 0, len(plan.Files))
	for _, file := range plan.Files {
		ids = append(ids, w.state.Jobs.NewTodo(file, jobs.CodeGenRequest(file)))
	}
	w.journal.Info("job %s done: %d file(s) scheduled", c.jobID, len(ids))
	if w.autoStart {
		for _, id := range ids {
			if err := w.startJob(id); err != nil {
				w.logger.Printf("worker: auto-start %s: %v", id, err)
			}
		}
	}
	w.emitQueue()
	return nil
}

func (w *Worker) completeCodeGen(c completion) error {
	code, err := planner.CodeFromResult(c.result)
	if err != nil {
		return err
	}
	if err := w.state.Jobs.FinishByID(c.jobID); err != nil {
		return err
	}
	filename := c.req.Filename
	w.state.AddSourceFile(filename, code)
	w.journal.Info("job %s done: wrote %s", c.jobID, filename)
	w.emit(wire.ServerMsg{CreateFile: &wire.CreateFile{Filename: filename}})
	w.emit(wire.ServerMsg{BeginStream: &wire.BeginStream{Filename: filename}})
	for _, token := range Tokens(code) {
		w.emit(wire.ServerMsg{StreamToken: &wire.StreamToken{Token: token}})
	}
	w.emit(wire.ServerMsg{EndStream: &wire.EndStream{}})
	w.emitQueue()
	return nil
}

// fail routes an in-progress job to stopped with the error attached.
func (w *Worker) fail(id uuid.UUID, cause error) {
	if err := w.state.Jobs.FailByID(id, cause); err != nil {
		w.logger.Printf("worker: record failure for %s: %v (cause: %v)", id, err, cause)
		return
	}
	var exhausted *llm.ExhaustedError
	if errors.As(cause, &exhausted) {
		w.logger.Printf("worker: job %s exhausted retries; last output: %q", id, truncate(exhausted.Raw, 200))
	}
	w.journal.Error("job %s failed: %v", id, cause)
	w.emit(wire.ServerMsg{JobFailed: &wire.JobFailed{JobID: id.String(), Error: cause.Error()}})
	w.emitQueue()
}

// commandTypes names the job type each synchronous command is journaled as.
var commandTypes = map[string]jobs.JobType{
	"addInterface":     jobs.TypeAddInterface,
	"removeInterface":  jobs.TypeRemoveInterface,
	"addSchema":        jobs.TypeAddSchema,
	"removeSchema":     jobs.TypeRemoveSchema,
	"addSourceFile":    jobs.TypeAddSourceFile,
	"removeSourceFile": jobs.TypeRemoveSourceFile,
	"startJob":         jobs.TypeStartJob,
}

func (w *Worker) applied(command, subject string) {
	if t, ok := commandTypes[command]; ok {
		w.journal.Info("%s applied: %s", t, subject)
	}
}

func (w *Worker) ack(command string) {
	w.emit(wire.ServerMsg{CommandAck: &wire.CommandAck{Command: command}})
}

func (w *Worker) reject(command, kind string, err error) {
	w.logger.Printf("worker: %s rejected (%s): %v", command, kind, err)
	w.emit(wire.ServerMsg{CommandError: &wire.CommandError{Command: command, Kind: kind, Message: err.Error()}})
}

func (w *Worker) emitQueue() {
	w.emit(wire.ServerMsg{UpdateJobQueue: &wire.UpdateJobQueue{Jobs: w.state.Jobs.Snapshot()}})
}

// emit never blocks the loop forever: once the loop context is cancelled
// pending messages are dropped.
func (w *Worker) emit(msg wire.ServerMsg) {
	ctx := w.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case w.outbox <- msg:
	case <-ctx.Done():
	}
}

func (w *Worker) publish() {
	snap := w.state.Snapshot()
	w.mu.Lock()
	w.snapshot = snap
	w.mu.Unlock()
}

func classify(err error) string {
	switch {
	case errors.Is(err, jobs.ErrJobAlreadyStarted),
		errors.Is(err, jobs.ErrNotInProgress),
		errors.Is(err, jobs.ErrNotStopped):
		return wire.ErrorInvalidTransition
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, project.ErrInterfaceNotFound),
		errors.Is(err, project.ErrSchemaNotFound),
		errors.Is(err, project.ErrFileNotFound):
		return wire.ErrorNotFound
	case errors.Is(err, project.ErrInterfaceExists),
		errors.Is(err, planner.ErrMissingSpecs),
		errors.Is(err, planner.ErrMissingScaffold):
		return wire.ErrorStateConflict
	default:
		return wire.ErrorInvalidCommand
	}
}

// Tokens splits generated code into line tokens for streaming.
func Tokens(code string) []string {
	var out []string
	for _, token := range strings.SplitAfter(code, "\n") {
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
