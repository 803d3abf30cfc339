package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/sprite"
	"turntable/internal/stage"
	"turntable/internal/storage"
	"turntable/internal/viewer"
)

// buildStage composes the sprite sheet, encodes per-frame files, renders the
// viewer page, and publishes everything to artifact storage.
type buildStage struct {
	cfg       *config.Config
	logger    *slog.Logger
	artifacts storage.Store
	builder   *sprite.Builder
}

func newBuildStage(cfg *config.Config, logger *slog.Logger, artifacts storage.Store) *buildStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &buildStage{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "build")),
		artifacts: artifacts,
		builder:   sprite.NewBuilder(cfg),
	}
}

func (s *buildStage) Step() queue.Step { return queue.StepBuilding }

func (s *buildStage) Execute(ctx context.Context, run *stage.Run) error {
	frames, err := s.loadFrames(run)
	if err != nil {
		return err
	}
	defer func() {
		for _, frame := range frames {
			frame.Close()
		}
	}()

	sheet, layout, err := s.builder.Compose(frames)
	if err != nil {
		return err
	}
	defer sheet.Close()

	// Per-frame files, addressable alongside the sheet. A duplicated frame
	// is stored once under its source position.
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if run.Records[i].DuplicateOf != nil {
			continue
		}
		data, ext, err := s.builder.Encode(frame, run.Transparent)
		if err != nil {
			return err
		}
		key := storage.JobKey(run.Job.ID, fmt.Sprintf("frames/frame_%03d%s", i, ext))
		if err := s.artifacts.Put(ctx, key, data); err != nil {
			return services.Wrap(services.ErrBuild, "build", "upload", fmt.Sprintf("could not store frame %d", i), err)
		}
		run.Records[i].ImageRef = key
	}
	for i := range run.Records {
		if source := run.Records[i].DuplicateOf; source != nil {
			run.Records[i].ImageRef = run.Records[*source].ImageRef
		}
	}

	sheetData, sheetExt, err := s.builder.Encode(sheet, run.Transparent)
	if err != nil {
		return err
	}
	spriteRef := storage.JobKey(run.Job.ID, "sprite"+sheetExt)
	if err := s.artifacts.Put(ctx, spriteRef, sheetData); err != nil {
		return services.Wrap(services.ErrBuild, "build", "upload", "could not store sprite sheet", err)
	}

	page, err := viewer.Render(viewer.FromLayout(layout, len(frames), run.Transparent, "sprite"+sheetExt))
	if err != nil {
		return err
	}
	viewerRef := storage.JobKey(run.Job.ID, "viewer.html")
	if err := s.artifacts.Put(ctx, viewerRef, page); err != nil {
		return services.Wrap(services.ErrBuild, "build", "upload", "could not store viewer page", err)
	}

	format := "webp"
	if run.Transparent {
		format = "png"
	}
	run.Result = &queue.Result{
		Frames:    run.Records,
		SpriteRef: spriteRef,
		ViewerRef: viewerRef,
		Metadata: queue.ResultMetadata{
			TotalFrames:           len(frames),
			FrameWidth:            run.FrameWidth,
			FrameHeight:           run.FrameHeight,
			Format:                format,
			Transparent:           run.Transparent,
			ProcessingTimeSeconds: time.Since(run.StartedAt).Seconds(),
			CoverageDegrees:       run.Path.CoverageDegrees,
			PartialCoverage:       !run.Path.Degraded && run.Path.CoverageDegrees < s.cfg.Pipeline.CoverageFullDegrees,
			DegradedSampling:      run.Path.Degraded,
			MattingNote:           run.MattingNote,
		},
	}

	s.logger.Info("artifacts published",
		logging.String(logging.FieldJobID, run.Job.ID),
		logging.Int("frames", len(frames)),
		logging.String("format", format))
	return nil
}

// loadFrames reads the processed frames in index order. An opaque sequence
// is forced to three channels so a stray alpha plane from a partially
// matted run cannot leak through.
func (s *buildStage) loadFrames(run *stage.Run) ([]gocv.Mat, error) {
	flag := gocv.IMReadColor
	if run.Transparent {
		flag = gocv.IMReadUnchanged
	}
	frames := make([]gocv.Mat, 0, len(run.FramePaths))
	for i, path := range run.FramePaths {
		img := gocv.IMRead(path, flag)
		if img.Empty() {
			for _, frame := range frames {
				frame.Close()
			}
			return nil, services.Wrap(services.ErrBuild, "build", "read",
				fmt.Sprintf("could not read processed frame %d", i), nil)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func (s *buildStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("build")
}
