package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kingrea/codeforge/internal/pipeline"
)

// Pipeline is the job container used by every JobSet stage.
type Pipeline = pipeline.Pipeline[uuid.UUID, *Job]

// JobSet holds the four job pipelines. A job id is a member of exactly one of
// them at any time; every transition is a remove-from-one/insert-into-another.
type JobSet struct {
	todo       *Pipeline
	inProgress *Pipeline
	stopped    *Pipeline
	done       *Pipeline
}

// NewJobSet returns an empty job set.
func NewJobSet() *JobSet {
	return &JobSet{
		todo:       pipeline.New[uuid.UUID, *Job](),
		inProgress: pipeline.New[uuid.UUID, *Job](),
		stopped:    pipeline.New[uuid.UUID, *Job](),
		done:       pipeline.New[uuid.UUID, *Job](),
	}
}

// NewTodo registers a Todo job at the back of the todo pipeline.
func (s *JobSet) NewTodo(name string, req Request) uuid.UUID {
	job := NewTodo(name, req)
	s.todo.PushBack(job.ID, job)
	return job.ID
}

// StartByID moves a todo job to inProgress and returns its request.
func (s *JobSet) StartByID(id uuid.UUID) (Request, error) {
	job, ok := s.todo.Get(id)
	if !ok {
		if status, found := s.Locate(id); found {
			return Request{}, fmt.Errorf("%w: %s is %s", ErrJobAlreadyStarted, id, status)
		}
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	req, err := job.Start()
	if err != nil {
		return Request{}, err
	}
	s.todo.Remove(id)
	s.inProgress.PushBack(id, job)
	return req, nil
}

// FinishByID moves an inProgress job to done.
func (s *JobSet) FinishByID(id uuid.UUID) error {
	job, ok := s.inProgress.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s is not in progress", ErrNotFound, id)
	}
	if err := job.Complete(); err != nil {
		return err
	}
	s.inProgress.Remove(id)
	s.done.PushBack(id, job)
	return nil
}

// StopByID moves an inProgress job to stopped. Only the status changes; any
// backend call already running for the job keeps running.
func (s *JobSet) StopByID(id uuid.UUID) error {
	job, ok := s.inProgress.Get(id)
	if !ok {
		if status, found := s.Locate(id); found {
			return fmt.Errorf("%w: %s is %s", ErrNotInProgress, id, status)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := job.Stop(); err != nil {
		return err
	}
	s.inProgress.Remove(id)
	s.stopped.PushBack(id, job)
	return nil
}

// FailByID moves an inProgress job to stopped and attaches cause.
func (s *JobSet) FailByID(id uuid.UUID, cause error) error {
	job, ok := s.inProgress.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s is not in progress", ErrNotFound, id)
	}
	if err := job.Fail(cause); err != nil {
		return err
	}
	s.inProgress.Remove(id)
	s.stopped.PushBack(id, job)
	return nil
}

// RequeueByID moves a stopped job back to the end of todo.
func (s *JobSet) RequeueByID(id uuid.UUID) error {
	job, ok := s.stopped.Get(id)
	if !ok {
		if status, found := s.Locate(id); found {
			return fmt.Errorf("%w: %s is %s", ErrNotStopped, id, status)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := job.Requeue(); err != nil {
		return err
	}
	s.stopped.Remove(id)
	s.todo.PushBack(id, job)
	return nil
}

// Locate reports which pipeline holds id.
func (s *JobSet) Locate(id uuid.UUID) (Status, bool) {
	switch {
	case s.todo.Has(id):
		return StatusTodo, true
	case s.inProgress.Has(id):
		return StatusInProgress, true
	case s.stopped.Has(id):
		return StatusStopped, true
	case s.done.Has(id):
		return StatusDone, true
	default:
		return "", false
	}
}

// Get returns a copy of the job with the given id.
func (s *JobSet) Get(id uuid.UUID) (Job, bool) {
	for _, p := range s.pipelines() {
		if job, ok := p.Get(id); ok {
			return *job.clone(), true
		}
	}
	return Job{}, false
}

// Todo returns copies of the todo jobs in order.
func (s *JobSet) Todo() []Job { return copies(s.todo) }

// InProgress returns copies of the running jobs in order.
func (s *JobSet) InProgress() []Job { return copies(s.inProgress) }

// Stopped returns copies of the stopped jobs in order.
func (s *JobSet) Stopped() []Job { return copies(s.stopped) }

// Done returns copies of the finished jobs in order.
func (s *JobSet) Done() []Job { return copies(s.done) }

// Len counts jobs across all pipelines.
func (s *JobSet) Len() int {
	total := 0
	for _, p := range s.pipelines() {
		total += p.Len()
	}
	return total
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (s *JobSet) Snapshot() *JobSet {
	return &JobSet{
		todo:       clonePipeline(s.todo),
		inProgress: clonePipeline(s.inProgress),
		stopped:    clonePipeline(s.stopped),
		done:       clonePipeline(s.done),
	}
}

type jobSetJSON struct {
	Todo       *Pipeline `json:"todo"`
	InProgress *Pipeline `json:"inProgress"`
	Stopped    *Pipeline `json:"stopped"`
	Done       *Pipeline `json:"done"`
}

// MarshalJSON encodes the four pipelines.
func (s *JobSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobSetJSON{
		Todo:       s.todo,
		InProgress: s.inProgress,
		Stopped:    s.stopped,
		Done:       s.done,
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (s *JobSet) UnmarshalJSON(data []byte) error {
	fresh := NewJobSet()
	raw := jobSetJSON{
		Todo:       fresh.todo,
		InProgress: fresh.inProgress,
		Stopped:    fresh.stopped,
		Done:       fresh.done,
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = JobSet{
		todo:       orEmpty(raw.Todo),
		inProgress: orEmpty(raw.InProgress),
		stopped:    orEmpty(raw.Stopped),
		done:       orEmpty(raw.Done),
	}
	return nil
}

func (s *JobSet) pipelines() []*Pipeline {
	return []*Pipeline{s.todo, s.inProgress, s.stopped, s.done}
}

func copies(p *Pipeline) []Job {
	values := p.Values()
	if len(values) == 0 {
		return nil
	}
	out := make([]Job, 0, len(values))
	for _, job := range values {
		out = append(out, *job.clone())
	}
	return out
}

func orEmpty(p *Pipeline) *Pipeline {
	if p == nil {
		return pipeline.New[uuid.UUID, *Job]()
	}
	return p
}

func clonePipeline(p *Pipeline) *Pipeline {
	out := pipeline.New[uuid.UUID, *Job]()
	for _, entry := range p.Entries() {
		out.PushBack(entry.Key, entry.Value.clone())
	}
	return out
}
