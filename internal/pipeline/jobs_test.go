package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_EmptyInput(t *testing.T) {
	h := ContentHashHex([]byte{})
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h != want {
		t.Errorf("expected hash %q, got %q", want, h)
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{
		ID:        "test-1",
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusParsing, "parsing document"},
		{StatusAnalyzing, "analyzing units"},
		{StatusMapping, "mapping findings"},
		{StatusHighlighting, "rendering highlights"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{StatusCompleted, StatusPartial, StatusCancelled, StatusBudgetExceeded, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	for _, s := range []JobStatus{StatusQueued, StatusParsing, StatusAnalyzing, StatusMapping, StatusHighlighting} {
		if s.Terminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("unit u-3 failed")
	job.AddError("unit u-7 failed")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "unit u-3 failed" {
		t.Errorf("expected first error %q, got %q", "unit u-3 failed", snap.Progress.Errors[0])
	}
}

func TestJob_Observe(t *testing.T) {
	job := &Job{ID: "progress-test"}
	job.Observe(Event{Stage: StageDispatching, Percent: 60, Message: "analyzed u-2", UnitsDone: 2, UnitsTotal: 4})

	snap := job.Snapshot()
	if snap.Progress.Stage != StageDispatching || snap.Progress.Percent != 60 {
		t.Errorf("unexpected progress %+v", snap.Progress)
	}
	if snap.Progress.UnitsDone != 2 || snap.Progress.UnitsTotal != 4 {
		t.Errorf("expected 2/4 units, got %d/%d", snap.Progress.UnitsDone, snap.Progress.UnitsTotal)
	}
}

func TestJob_CancelBeforeStart(t *testing.T) {
	job := &Job{ID: "cancel-queued", Status: StatusQueued}
	if !job.Cancel() {
		t.Fatal("expected queued job to accept cancellation")
	}
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	if job.bind(cancel) {
		t.Error("expected bind to report the pending cancellation")
	}
}

func TestJob_CancelRunning(t *testing.T) {
	job := &Job{ID: "cancel-running", Status: StatusAnalyzing}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !job.bind(cancel) {
		t.Fatal("expected bind to succeed")
	}
	if !job.Cancel() {
		t.Fatal("expected running job to accept cancellation")
	}
	if ctx.Err() == nil {
		t.Error("expected the run context to be cancelled")
	}
}

func TestJob_CancelFinished(t *testing.T) {
	job := &Job{ID: "cancel-done", Status: StatusCompleted}
	if job.Cancel() {
		t.Error("expected finished job to refuse cancellation")
	}
}

func TestJob_FileData(t *testing.T) {
	job := &Job{ID: "data-test"}
	data := []byte("file content here")
	job.SetFileData(data)
	got := job.FileData()
	if string(got) != string(data) {
		t.Errorf("expected file data %q, got %q", data, got)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != "store-1" {
		t.Errorf("expected ID %q, got %q", "store-1", got.ID)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 job, got %d", store.Len())
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", Status: StatusCompleted, UpdatedAt: time.Now()}
	running := &Job{ID: "running", Status: StatusAnalyzing, UpdatedAt: time.Now()}
	store.Put(expired)
	store.Put(running)

	time.Sleep(100 * time.Millisecond)

	fresh := &Job{ID: "new", Status: StatusCompleted, UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("running") == nil {
		t.Error("expected running job to survive cleanup")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}
