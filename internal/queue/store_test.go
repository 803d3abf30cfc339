package queue_test

import (
	"context"
	"testing"

	"turntable/internal/queue"
	"turntable/internal/testsupport"
)

func TestNewJobStartsPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, "", "uploads/source.mp4", queue.Params{FrameCount: 36})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job id to be assigned")
	}
	if job.Status != queue.StatusPending || job.Step != queue.StepQueued || job.Progress != 0 {
		t.Fatalf("unexpected initial state: %+v", job)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Params.FrameCount != 36 {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestGetByIDUnknownReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for unknown id, got %#v", job)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})

	claimed, err := store.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed == nil || claimed.Status != queue.StatusProcessing {
		t.Fatalf("expected processing job, got %#v", claimed)
	}

	// A duplicate delivery of the same job id finds no PENDING row.
	again, err := store.Claim(ctx, job.ID)
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if again != nil {
		t.Fatalf("expected duplicate claim to return nil, got %#v", again)
	}
}

func TestSetStepAdvancesCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	progress := 0
	for _, step := range []queue.Step{
		queue.StepStabilizing,
		queue.StepDetecting,
		queue.StepExtracting,
		queue.StepNormalizing,
		queue.StepRemovingBackground,
		queue.StepBuilding,
	} {
		if err := store.SetStep(ctx, job.ID, step); err != nil {
			t.Fatalf("SetStep(%s) failed: %v", step, err)
		}
		fetched, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if fetched.Step != step {
			t.Fatalf("expected step %s, got %s", step, fetched.Step)
		}
		if fetched.Progress < progress {
			t.Fatalf("progress regressed: %d -> %d at %s", progress, fetched.Progress, step)
		}
		progress = fetched.Progress
	}
}

func TestSetStepIgnoresRegression(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.SetStep(ctx, job.ID, queue.StepNormalizing); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	// A stale writer trying an earlier step must not move progress backwards.
	if err := store.SetStep(ctx, job.ID, queue.StepStabilizing); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Progress != queue.StepNormalizing.Checkpoint() {
		t.Fatalf("expected progress %d, got %d", queue.StepNormalizing.Checkpoint(), fetched.Progress)
	}
	if fetched.Step != queue.StepNormalizing {
		t.Fatalf("expected step to remain normalizing, got %s", fetched.Step)
	}
}

func TestMarkSuccessStoresResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	payload, err := queue.EncodeResult(&queue.Result{
		ViewerRef: job.ID + "/viewer.html",
		Metadata:  queue.ResultMetadata{TotalFrames: 24, Format: "webp"},
	})
	if err != nil {
		t.Fatalf("EncodeResult failed: %v", err)
	}
	if err := store.MarkSuccess(ctx, job.ID, payload); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusSuccess || fetched.Progress != 100 || fetched.Step != queue.StepDone {
		t.Fatalf("unexpected terminal state: %+v", fetched)
	}
	if fetched.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	result, err := fetched.Result()
	if err != nil {
		t.Fatalf("Result decode failed: %v", err)
	}
	if result.Metadata.TotalFrames != 24 || result.Metadata.Format != "webp" {
		t.Fatalf("unexpected result metadata: %+v", result.Metadata)
	}
}

func TestMarkSuccessRequiresProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	if err := store.MarkSuccess(ctx, job.ID, "{}"); err == nil {
		t.Fatal("expected MarkSuccess on a PENDING job to fail")
	}
}

func TestMarkFailureRecordsStageAndError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	if _, err := store.Claim(ctx, job.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.MarkFailure(ctx, job.ID, queue.StepStabilizing, "StabilizationError", "ffmpeg exited with status 1"); err != nil {
		t.Fatalf("MarkFailure failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusFailure {
		t.Fatalf("expected FAILURE, got %s", fetched.Status)
	}
	if fetched.Step != queue.StepStabilizing {
		t.Fatalf("expected failing step to be retained, got %s", fetched.Step)
	}
	if fetched.ErrorKind != "StabilizationError" || fetched.ErrorMessage == "" {
		t.Fatalf("unexpected error fields: kind=%q message=%q", fetched.ErrorKind, fetched.ErrorMessage)
	}
	if fetched.CompletedAt == nil {
		t.Fatal("expected completed_at to be set on failure")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})

	if err := store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected job to be gone, got %#v", fetched)
	}
}

func TestCancelRequestedFlagAndMissingRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})

	flag, err := store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if flag {
		t.Fatal("expected no cancel flag on new job")
	}

	if err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	flag, err = store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if !flag {
		t.Fatal("expected cancel flag to be set")
	}

	// A deleted row reads as cancelled so in-flight runs stop publishing.
	if err := store.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	flag, err = store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if !flag {
		t.Fatal("expected missing row to read as cancelled")
	}
}

func TestResetOrphanedProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	a := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	b := testsupport.NewJob(t, store, "uploads/b.mp4", queue.Params{FrameCount: 36})
	if _, err := store.Claim(ctx, a.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	count, err := store.ResetOrphanedProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetOrphanedProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reset job, got %d", count)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both jobs pending, got %d", len(pending))
	}
	_ = b
}

func TestStepCheckpoints(t *testing.T) {
	expected := map[queue.Step]int{
		queue.StepQueued:             0,
		queue.StepStabilizing:        10,
		queue.StepDetecting:          30,
		queue.StepExtracting:         45,
		queue.StepNormalizing:        65,
		queue.StepRemovingBackground: 80,
		queue.StepBuilding:           95,
		queue.StepDone:               100,
	}
	last := -1
	for _, step := range queue.Steps() {
		got := step.Checkpoint()
		if got != expected[step] {
			t.Fatalf("checkpoint for %s = %d, want %d", step, got, expected[step])
		}
		if got < last {
			t.Fatalf("checkpoints not monotonic at %s", step)
		}
		last = got
	}
}
