package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/stage"
	"turntable/internal/storage"
)

// conditional is implemented by stages that only run for some jobs.
type conditional interface {
	Enabled(run *stage.Run) bool
}

// processJob drives one claimed job through the stage sequence. The job is
// already PROCESSING; every exit path below leaves it SUCCESS, FAILURE, or
// (on daemon shutdown) PROCESSING for startup recovery to reset.
func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	logger = logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("job started",
		logging.Int("frame_count", job.Params.FrameCount),
		logging.Bool("remove_background", job.Params.RemoveBackground))

	run := &stage.Run{
		Job:       job,
		WorkDir:   filepath.Join(m.cfg.Paths.WorkDir, job.ID),
		StartedAt: time.Now(),
	}
	if err := os.MkdirAll(run.WorkDir, 0o755); err != nil {
		m.failJob(ctx, logger, job, queue.StepQueued, services.Wrap(services.ErrBuild, "workflow", "workspace", "could not create job workspace", err))
		return
	}
	defer os.RemoveAll(run.WorkDir)

	for _, handler := range m.stages {
		if m.checkCancelled(ctx, logger, job) {
			return
		}
		if cond, ok := handler.(conditional); ok && !cond.Enabled(run) {
			continue
		}

		step := handler.Step()
		if err := m.store.SetStep(ctx, job.ID, step); err != nil {
			logger.Error("failed to persist step transition", logging.String(logging.FieldStage, string(step)), logging.Error(err))
			m.failJob(ctx, logger, job, step, err)
			return
		}

		stageLogger := logger.With(logging.String(logging.FieldStage, string(step)))
		stageLogger.Info("stage started")
		start := time.Now()

		err := m.executeStage(ctx, handler, run)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-stage: leave the job PROCESSING so the next
				// daemon start resets and re-runs it.
				stageLogger.Info("stage interrupted by shutdown")
				return
			}
			m.failJob(ctx, logger, job, step, err)
			return
		}
		stageLogger.Info("stage completed", logging.Duration("stage_duration", time.Since(start)))
	}

	if run.Result == nil {
		m.failJob(ctx, logger, job, queue.StepBuilding,
			services.Wrap(services.ErrBuild, "workflow", "finalize", "pipeline produced no result", nil))
		return
	}

	// A deletion racing the final stage must win: never publish a result
	// for a job the caller already discarded.
	if m.checkCancelled(ctx, logger, job) {
		return
	}

	payload, err := queue.EncodeResult(run.Result)
	if err != nil {
		m.failJob(ctx, logger, job, queue.StepBuilding,
			services.Wrap(services.ErrBuild, "workflow", "finalize", "could not encode result", err))
		return
	}
	if err := m.store.MarkSuccess(ctx, job.ID, payload); err != nil {
		logger.Error("failed to mark job success", logging.Error(err))
		return
	}
	logger.Info("job completed",
		logging.Duration("processing_time", time.Since(run.StartedAt)),
		logging.Int("frames", run.Result.Metadata.TotalFrames))
}

func (m *Manager) executeStage(ctx context.Context, handler stage.Handler, run *stage.Run) error {
	stageCtx := ctx
	if m.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, m.stageTimeout)
		defer cancel()
	}
	err := handler.Execute(stageCtx, run)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(stageMarker(handler.Step()), string(handler.Step()), "timeout", "stage exceeded its time budget", err)
	}
	return err
}

// checkCancelled stops the run when the job was deleted or cancelled. The
// workspace and any published artifacts are discarded; the job row, if it
// still exists, is left for the deletion path to remove.
func (m *Manager) checkCancelled(ctx context.Context, logger *slog.Logger, job *queue.Job) bool {
	cancelled, err := m.store.CancelRequested(ctx, job.ID)
	if err != nil {
		logger.Warn("could not check cancellation", logging.Error(err))
		return false
	}
	if !cancelled {
		return false
	}
	logger.Info("job cancelled, discarding partial artifacts")
	if err := m.artifacts.DeletePrefix(ctx, job.ID+"/"); err != nil {
		logger.Warn("could not discard artifacts", logging.Error(err))
	}
	return true
}

// failJob records the failing stage and cause, then removes derived
// artifacts. The uploaded source stays for diagnosis until the job is
// deleted.
func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, step queue.Step, err error) {
	details := services.Details(err)
	logger.Error("job failed",
		logging.String(logging.FieldStage, string(step)),
		logging.String("error_kind", details.Kind),
		logging.Error(err))

	if markErr := m.store.MarkFailure(ctx, job.ID, step, details.Kind, details.Message); markErr != nil {
		logger.Error("failed to persist job failure", logging.Error(markErr))
	}
	for _, prefix := range []string{"frames/"} {
		if cleanupErr := m.artifacts.DeletePrefix(ctx, storage.JobKey(job.ID, prefix)); cleanupErr != nil {
			logger.Warn("could not clean up partial artifacts", logging.Error(cleanupErr))
		}
	}
}

// stageMarker maps a step to the sentinel its failures carry.
func stageMarker(step queue.Step) error {
	switch step {
	case queue.StepStabilizing:
		return services.ErrStabilization
	case queue.StepDetecting, queue.StepExtracting:
		return services.ErrDetection
	case queue.StepNormalizing:
		return services.ErrNormalization
	case queue.StepRemovingBackground:
		return services.ErrMatting
	default:
		return services.ErrBuild
	}
}
