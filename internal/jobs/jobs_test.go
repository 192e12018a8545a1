package jobs

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

func TestJobStartTwiceFails(t *testing.T) {
	job := NewTodo("scaffold", ScaffoldRequest("build a todo api"))
	req, err := job.Start()
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if req.Prompt != "build a todo api" {
		t.Fatalf("unexpected request %+v", req)
	}
	if job.Request != nil {
		t.Fatalf("request must be moved out on start")
	}
	if _, err := job.Start(); !errors.Is(err, ErrJobAlreadyStarted) {
		t.Fatalf("expected ErrJobAlreadyStarted, got %v", err)
	}
}

func TestJobStopRequiresInProgress(t *testing.T) {
	todo := NewTodo("a", CodeGenRequest("main.rs"))
	if err := todo.Stop(); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("stop on todo: expected ErrNotInProgress, got %v", err)
	}
	done := NewTodo("b", CodeGenRequest("lib.rs"))
	if _, err := done.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := done.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := done.Stop(); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("stop on done: expected ErrNotInProgress, got %v", err)
	}
}

func TestJobRequeueRestoresRequest(t *testing.T) {
	job := NewTodo("gen", CodeGenRequest("main.rs"))
	if _, err := job.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := job.Fail(errors.New("backend down")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if job.Error != "backend down" {
		t.Fatalf("expected error to be attached, got %q", job.Error)
	}
	if err := job.Requeue(); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if job.Request == nil || job.Request.Filename != "main.rs" {
		t.Fatalf("expected original request back, got %+v", job.Request)
	}
	req, err := job.Start()
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if req.Filename != "main.rs" || job.Attempt != 2 || job.Error != "" {
		t.Fatalf("unexpected restart state: req=%+v attempt=%d err=%q", req, job.Attempt, job.Error)
	}
}

func TestJobSetTransitions(t *testing.T) {
	set := NewJobSet()
	id := set.NewTodo("plan", ExecutionPlanRequest())
	if status, _ := set.Locate(id); status != StatusTodo {
		t.Fatalf("expected todo, got %s", status)
	}
	if _, err := set.StartByID(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := set.StartByID(id); !errors.Is(err, ErrJobAlreadyStarted) {
		t.Fatalf("expected ErrJobAlreadyStarted, got %v", err)
	}
	if err := set.FinishByID(id); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := set.FinishByID(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound finishing a done job, got %v", err)
	}
	if err := set.StopByID(id); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress stopping a done job, got %v", err)
	}
	if err := set.StopByID(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if _, err := set.StartByID(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound starting unknown id, got %v", err)
	}
	if len(set.Done()) != 1 || set.Done()[0].ID != id {
		t.Fatalf("expected job in done, got %+v", set.Done())
	}
}

func TestJobSetMembershipIsExclusive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	set := NewJobSet()
	var ids []uuid.UUID
	for step := 0; step < 1500; step++ {
		if len(ids) == 0 || rng.Intn(4) == 0 {
			ids = append(ids, set.NewTodo("job", CodeGenRequest("f.rs")))
			continue
		}
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0:
			_, _ = set.StartByID(id)
		case 1:
			_ = set.StopByID(id)
		case 2:
			_ = set.FinishByID(id)
		case 3:
			_ = set.RequeueByID(id)
		}
		for _, candidate := range ids {
			count := 0
			for _, p := range set.pipelines() {
				if p.Has(candidate) {
					count++
				}
			}
			if count != 1 {
				t.Fatalf("job %s is in %d pipelines", candidate, count)
			}
		}
	}
	if set.Len() != len(ids) {
		t.Fatalf("expected %d jobs, got %d", len(ids), set.Len())
	}
}

func TestJobSetStatusMatchesPipeline(t *testing.T) {
	set := NewJobSet()
	a := set.NewTodo("a", CodeGenRequest("a.rs"))
	b := set.NewTodo("b", CodeGenRequest("b.rs"))
	if _, err := set.StartByID(a); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if _, err := set.StartByID(b); err != nil {
		t.Fatalf("start b: %v", err)
	}
	if err := set.StopByID(b); err != nil {
		t.Fatalf("stop b: %v", err)
	}
	for _, job := range set.InProgress() {
		if job.Status != StatusInProgress {
			t.Fatalf("job %s in inProgress has status %s", job.ID, job.Status)
		}
	}
	for _, job := range set.Stopped() {
		if job.Status != StatusStopped {
			t.Fatalf("job %s in stopped has status %s", job.ID, job.Status)
		}
	}
	if err := set.RequeueByID(a); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("expected ErrNotStopped, got %v", err)
	}
	if err := set.RequeueByID(b); err != nil {
		t.Fatalf("requeue b: %v", err)
	}
	todo := set.Todo()
	if len(todo) != 1 || todo[0].ID != b || todo[0].Request == nil {
		t.Fatalf("expected b back in todo with its request, got %+v", todo)
	}
}

func TestJobSetSnapshotIsIndependent(t *testing.T) {
	set := NewJobSet()
	id := set.NewTodo("a", CodeGenRequest("a.rs"))
	snap := set.Snapshot()
	if _, err := set.StartByID(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if status, _ := snap.Locate(id); status != StatusTodo {
		t.Fatalf("snapshot must not observe later transitions, got %s", status)
	}
	if job, _ := snap.Get(id); job.Status != StatusTodo {
		t.Fatalf("snapshot job mutated: %s", job.Status)
	}
}

func TestJobSetJSONRoundTrip(t *testing.T) {
	set := NewJobSet()
	first := set.NewTodo("main", CodeGenRequest("main.rs"))
	second := set.NewTodo("lib", CodeGenRequest("lib.rs"))
	if _, err := set.StartByID(second); err != nil {
		t.Fatalf("start: %v", err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded JobSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status, ok := decoded.Locate(first); !ok || status != StatusTodo {
		t.Fatalf("expected first in todo, got %s %v", status, ok)
	}
	if status, ok := decoded.Locate(second); !ok || status != StatusInProgress {
		t.Fatalf("expected second in progress, got %s %v", status, ok)
	}
	job, _ := decoded.Get(first)
	if job.Type != TypeCodeGen || job.Request == nil || job.Request.Filename != "main.rs" {
		t.Fatalf("unexpected decoded job %+v", job)
	}
}

func TestOnlyPipelineStepsAreGenerative(t *testing.T) {
	generative := map[JobType]bool{
		TypeScaffold:           true,
		TypeBuildExecutionPlan: true,
		TypeCodeGen:            true,
		TypeAddInterface:       false,
		TypeRemoveInterface:    false,
		TypeAddSchema:          false,
		TypeRemoveSchema:       false,
		TypeAddSourceFile:      false,
		TypeRemoveSourceFile:   false,
		TypeStartJob:           false,
	}
	for jobType, want := range generative {
		if got := jobType.Generative(); got != want {
			t.Fatalf("%s.Generative() = %v, want %v", jobType, got, want)
		}
	}
}
