package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"turntable/internal/config"
	"turntable/internal/media/ffprobe"
	"turntable/internal/media/ingest"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/stabilize"
	"turntable/internal/stage"
	"turntable/internal/storage"
)

// stabilizeStage pulls the uploaded source out of artifact storage, produces
// the normalized working copy, and runs two-pass stabilization on it.
type stabilizeStage struct {
	cfg        *config.Config
	artifacts  storage.Store
	ingestor   *ingest.Ingestor
	stabilizer *stabilize.Stabilizer
}

func newStabilizeStage(cfg *config.Config, logger *slog.Logger, artifacts storage.Store) *stabilizeStage {
	return &stabilizeStage{
		cfg:        cfg,
		artifacts:  artifacts,
		ingestor:   ingest.New(cfg, logger),
		stabilizer: stabilize.New(cfg, logger),
	}
}

func (s *stabilizeStage) Step() queue.Step { return queue.StepStabilizing }

func (s *stabilizeStage) Execute(ctx context.Context, run *stage.Run) error {
	data, err := s.artifacts.Get(ctx, run.Job.SourceVideoRef)
	if err != nil {
		return services.Wrap(services.ErrStabilization, "stabilize", "fetch", "could not fetch source video", err)
	}

	uploadPath := filepath.Join(run.WorkDir, "upload"+filepath.Ext(run.Job.SourceVideoRef))
	if err := os.WriteFile(uploadPath, data, 0o644); err != nil {
		return services.Wrap(services.ErrStabilization, "stabilize", "workspace", "could not write upload to workspace", err)
	}

	result, err := ffprobe.Inspect(ctx, s.cfg.FFprobeBinary(), uploadPath)
	if err != nil {
		return services.Wrap(services.ErrStabilization, "stabilize", "probe", "source video is unreadable", err)
	}
	// Upload acceptance already ran at submit time; duration is not rechecked.
	probe, err := ingest.Evaluate(result, 0)
	if err != nil {
		return services.Wrap(services.ErrStabilization, "stabilize", "probe", "source video is not decodable", err)
	}

	workingCopy := filepath.Join(run.WorkDir, "working.mp4")
	if err := s.ingestor.WorkingCopy(ctx, uploadPath, workingCopy, probe); err != nil {
		return services.Wrap(services.ErrStabilization, "stabilize", "transcode", "could not produce working copy", err)
	}
	run.WorkingCopy = workingCopy

	stabilized, err := s.stabilizer.Run(ctx, workingCopy, run.WorkDir)
	if err != nil {
		return err
	}
	run.StabilizedVideo = stabilized
	return nil
}

func (s *stabilizeStage) HealthCheck(ctx context.Context) stage.Health {
	if err := s.stabilizer.Available(); err != nil {
		return stage.Unhealthy("stabilize", err.Error())
	}
	return stage.Healthy("stabilize")
}
