package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"turntable/internal/config"
	"turntable/internal/detect"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/spinpath"
	"turntable/internal/stage"
)

// detectStage scans the stabilized video on a coarse time grid and builds
// the angle-over-time path the frame selector works from.
type detectStage struct {
	cfg     *config.Config
	logger  *slog.Logger
	sampler *detect.Sampler
}

func newDetectStage(cfg *config.Config, logger *slog.Logger, detector detect.Detector) *detectStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &detectStage{
		cfg:     cfg,
		logger:  logger.With(logging.String(logging.FieldComponent, "detect")),
		sampler: detect.NewSampler(cfg, detector, logger),
	}
}

func (s *detectStage) Step() queue.Step { return queue.StepDetecting }

func (s *detectStage) Execute(ctx context.Context, run *stage.Run) error {
	scan, err := s.sampler.Scan(ctx, run.StabilizedVideo)
	if err != nil {
		return err
	}
	run.Samples = scan.Samples
	run.SourceWidth = scan.FrameWidth
	run.SourceHeight = scan.FrameHeight
	run.SourceFPS = scan.FPS

	run.Path = spinpath.Build(scan.Samples, scan.FrameWidth)
	if run.Path.Degraded {
		s.logger.Warn("subject could not be tracked, falling back to uniform time sampling",
			logging.String(logging.FieldJobID, run.Job.ID))
	} else {
		s.logger.Info("rotation path estimated",
			logging.String(logging.FieldJobID, run.Job.ID),
			logging.Float64("coverage_degrees", run.Path.CoverageDegrees))
	}
	return nil
}

func (s *detectStage) HealthCheck(ctx context.Context) stage.Health {
	if _, err := os.Stat(s.cfg.DetectorModelPath()); err != nil {
		return stage.Unhealthy("detect", fmt.Sprintf("detector model missing: %v", err))
	}
	return stage.Healthy("detect")
}
