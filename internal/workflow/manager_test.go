package workflow_test

import (
	"context"
	"testing"
	"time"

	"turntable/internal/broker"
	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/stage"
	"turntable/internal/storage"
	"turntable/internal/testsupport"
	"turntable/internal/workflow"
)

type fakeStage struct {
	step    queue.Step
	execute func(ctx context.Context, run *stage.Run) error
	enabled func(run *stage.Run) bool
}

func (f *fakeStage) Step() queue.Step { return f.step }

func (f *fakeStage) Execute(ctx context.Context, run *stage.Run) error {
	if f.execute == nil {
		return nil
	}
	return f.execute(ctx, run)
}

func (f *fakeStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(string(f.step))
}

func (f *fakeStage) Enabled(run *stage.Run) bool {
	if f.enabled == nil {
		return true
	}
	return f.enabled(run)
}

func finalStage(step queue.Step) *fakeStage {
	return &fakeStage{step: step, execute: func(ctx context.Context, run *stage.Run) error {
		run.Result = &queue.Result{
			ViewerRef: run.Job.ID + "/viewer.html",
			Metadata:  queue.ResultMetadata{TotalFrames: run.Job.Params.FrameCount, Format: "webp"},
		}
		return nil
	}}
}

func newTestManager(t *testing.T, cfg *config.Config, store *queue.Store, stages []stage.Handler) (*workflow.Manager, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemory()
	t.Cleanup(func() { b.Close() })
	artifacts, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}
	return workflow.NewManager(cfg, store, b, artifacts, stages, logging.NewNop()), b
}

func waitForStatus(t *testing.T, store *queue.Store, jobID string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestManagerRunsJobToSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var seenSteps []queue.Step
	record := func(step queue.Step) *fakeStage {
		return &fakeStage{step: step, execute: func(ctx context.Context, run *stage.Run) error {
			seenSteps = append(seenSteps, step)
			return nil
		}}
	}
	stages := []stage.Handler{
		record(queue.StepStabilizing),
		record(queue.StepDetecting),
		finalStage(queue.StepBuilding),
	}

	manager, b := newTestManager(t, cfg, store, stages)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 36})
	if err := b.Publish(ctx, job.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := waitForStatus(t, store, job.ID, queue.StatusSuccess)
	if done.Progress != 100 || done.Step != queue.StepDone {
		t.Fatalf("unexpected terminal state: %+v", done)
	}
	result, err := done.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Metadata.TotalFrames != 36 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(seenSteps) != 3 {
		t.Fatalf("expected 3 stages to run, saw %v", seenSteps)
	}
}

func TestManagerRecordsStageFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	stages := []stage.Handler{
		&fakeStage{step: queue.StepStabilizing},
		&fakeStage{step: queue.StepDetecting, execute: func(ctx context.Context, run *stage.Run) error {
			return services.Wrap(services.ErrDetection, "detect", "scan", "no decodable frames", nil)
		}},
		finalStage(queue.StepBuilding),
	}

	manager, b := newTestManager(t, cfg, store, stages)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	if err := b.Publish(context.Background(), job.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	failed := waitForStatus(t, store, job.ID, queue.StatusFailure)
	if failed.Step != queue.StepDetecting {
		t.Fatalf("expected failing step detecting, got %s", failed.Step)
	}
	if failed.ErrorKind != "DetectionError" {
		t.Fatalf("expected DetectionError, got %q", failed.ErrorKind)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected a human-readable failure message")
	}
}

func TestManagerSkipsDisabledStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	matteRan := false
	stages := []stage.Handler{
		&fakeStage{step: queue.StepNormalizing},
		&fakeStage{
			step:    queue.StepRemovingBackground,
			execute: func(ctx context.Context, run *stage.Run) error { matteRan = true; return nil },
			enabled: func(run *stage.Run) bool { return run.Job.Params.RemoveBackground },
		},
		finalStage(queue.StepBuilding),
	}

	manager, b := newTestManager(t, cfg, store, stages)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24, RemoveBackground: false})
	if err := b.Publish(context.Background(), job.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForStatus(t, store, job.ID, queue.StatusSuccess)
	if matteRan {
		t.Fatal("background removal ran for a job that did not request it")
	}
}

func TestManagerStopsAtCancellationCheckpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	secondRan := false
	stages := []stage.Handler{
		&fakeStage{step: queue.StepStabilizing, execute: func(ctx context.Context, run *stage.Run) error {
			close(firstStarted)
			<-release
			return nil
		}},
		&fakeStage{step: queue.StepDetecting, execute: func(ctx context.Context, run *stage.Run) error {
			secondRan = true
			return nil
		}},
		finalStage(queue.StepBuilding),
	}

	manager, b := newTestManager(t, cfg, store, stages)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	if err := b.Publish(ctx, job.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	<-firstStarted
	if err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	close(release)

	// The run must stop at the next stage boundary without a terminal
	// transition; give it a moment to have done the wrong thing.
	time.Sleep(200 * time.Millisecond)
	if secondRan {
		t.Fatal("stage ran after cancellation checkpoint")
	}
	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status == queue.StatusSuccess {
		t.Fatal("cancelled job must not reach SUCCESS")
	}
}

func TestManagerIgnoresDuplicateDeliveries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	runs := 0
	stages := []stage.Handler{
		&fakeStage{step: queue.StepStabilizing, execute: func(ctx context.Context, run *stage.Run) error {
			runs++
			return nil
		}},
		finalStage(queue.StepBuilding),
	}

	manager, b := newTestManager(t, cfg, store, stages)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "uploads/a.mp4", queue.Params{FrameCount: 24})
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, job.ID); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitForStatus(t, store, job.ID, queue.StatusSuccess)
	time.Sleep(100 * time.Millisecond)
	if runs != 1 {
		t.Fatalf("expected exactly one run, got %d", runs)
	}
}
