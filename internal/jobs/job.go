package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobAlreadyStarted is returned when starting a job that is not Todo.
	ErrJobAlreadyStarted = errors.New("jobs: job already started")
	// ErrNotInProgress is returned when completing or stopping a job that is not running.
	ErrNotInProgress = errors.New("jobs: job not in progress")
	// ErrNotStopped is returned when requeueing a job that was never stopped.
	ErrNotStopped = errors.New("jobs: job not stopped")
	// ErrNotFound is returned when a job id is absent from the expected pipeline.
	ErrNotFound = errors.New("jobs: job not found")
)

// JobType tags the operation a job (or command) performs.
type JobType string

const (
	TypeScaffold           JobType = "Scaffold"
	TypeBuildExecutionPlan JobType = "BuildExecutionPlan"
	TypeCodeGen            JobType = "CodeGen"
	TypeAddInterface       JobType = "AddInterface"
	TypeRemoveInterface    JobType = "RemoveInterface"
	TypeAddSchema          JobType = "AddSchema"
	TypeRemoveSchema       JobType = "RemoveSchema"
	TypeAddSourceFile      JobType = "AddSourceFile"
	TypeRemoveSourceFile   JobType = "RemoveSourceFile"
	TypeStartJob           JobType = "StartJob"
)

// Generative reports whether jobs of this type call the generation backend.
func (t JobType) Generative() bool {
	switch t {
	case TypeScaffold, TypeBuildExecutionPlan, TypeCodeGen:
		return true
	default:
		return false
	}
}

// Status enumerates job lifecycle states.
type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "InProgress"
	StatusDone       Status = "Done"
	StatusStopped    Status = "Stopped"
)

// Request is the operation payload a job carries while it waits in todo.
type Request struct {
	Type     JobType `json:"type"`
	Prompt   string  `json:"prompt,omitempty"`
	Filename string  `json:"filename,omitempty"`
}

// ScaffoldRequest asks the backend for a project scaffold.
func ScaffoldRequest(prompt string) Request {
	return Request{Type: TypeScaffold, Prompt: prompt}
}

// ExecutionPlanRequest asks the backend to order the scaffold files.
func ExecutionPlanRequest() Request {
	return Request{Type: TypeBuildExecutionPlan}
}

// CodeGenRequest asks the backend to write a single file.
func CodeGenRequest(filename string) Request {
	return Request{Type: TypeCodeGen, Filename: filename}
}

var now = func() time.Time { return time.Now().UTC() }

// Job is a unit of work. Request is non-nil exactly while Status is Todo.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      JobType   `json:"jobType"`
	Status    Status    `json:"status"`
	Request   *Request  `json:"request,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	origin Request
}

// NewTodo creates a job in the Todo state.
func NewTodo(name string, req Request) *Job {
	ts := now()
	payload := req
	return &Job{
		ID:        uuid.New(),
		Name:      name,
		Type:      req.Type,
		Status:    StatusTodo,
		Request:   &payload,
		CreatedAt: ts,
		UpdatedAt: ts,
		origin:    req,
	}
}

// Start moves the job to InProgress and hands out its request.
func (j *Job) Start() (Request, error) {
	if j.Status != StatusTodo || j.Request == nil {
		return Request{}, fmt.Errorf("%w: %s is %s", ErrJobAlreadyStarted, j.ID, j.Status)
	}
	req := *j.Request
	j.Request = nil
	j.Status = StatusInProgress
	j.Error = ""
	j.Attempt++
	j.UpdatedAt = now()
	return req, nil
}

// Complete moves the job from InProgress to Done.
func (j *Job) Complete() error {
	if j.Status != StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrNotInProgress, j.ID, j.Status)
	}
	j.Status = StatusDone
	j.UpdatedAt = now()
	return nil
}

// Stop marks a running job as abandoned. It does not cancel the underlying
// backend call.
func (j *Job) Stop() error {
	if j.Status != StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrNotInProgress, j.ID, j.Status)
	}
	j.Status = StatusStopped
	j.UpdatedAt = now()
	return nil
}

// Fail stops the job and records the failure.
func (j *Job) Fail(cause error) error {
	if err := j.Stop(); err != nil {
		return err
	}
	if cause != nil {
		j.Error = cause.Error()
	}
	return nil
}

// Requeue returns a stopped job to Todo with its original request restored.
func (j *Job) Requeue() error {
	if j.Status != StatusStopped {
		return fmt.Errorf("%w: %s is %s", ErrNotStopped, j.ID, j.Status)
	}
	payload := j.origin
	j.Request = &payload
	j.Status = StatusTodo
	j.UpdatedAt = now()
	return nil
}

// UnmarshalJSON restores a job and rebuilds the request used by Requeue.
func (j *Job) UnmarshalJSON(data []byte) error {
	type plain Job
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*j = Job(decoded)
	j.origin = Request{Type: j.Type}
	if j.Request != nil {
		j.origin = *j.Request
	}
	return nil
}

func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Request != nil {
		req := *j.Request
		out.Request = &req
	}
	return &out
}
