package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/matte"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/stage"
)

// frameMatter cuts the subject out of one frame, returning the result with
// an alpha channel.
type frameMatter interface {
	Cut(frame gocv.Mat) (gocv.Mat, error)
}

// matteStage cuts the background out of each normalized frame. A frame that
// resists matting falls back to its opaque version and is flagged; the
// sequence only ships transparent when every frame succeeded.
type matteStage struct {
	cfg    *config.Config
	logger *slog.Logger
	matter frameMatter
}

func newMatteStage(cfg *config.Config, logger *slog.Logger) *matteStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &matteStage{
		cfg:    cfg,
		logger: logger.With(logging.String(logging.FieldComponent, "matte")),
		matter: matte.New(cfg, logger),
	}
}

func (s *matteStage) Step() queue.Step { return queue.StepRemovingBackground }

// Enabled reports whether the job asked for background removal.
func (s *matteStage) Enabled(run *stage.Run) bool {
	return run.Job.Params.RemoveBackground
}

func (s *matteStage) Execute(ctx context.Context, run *stage.Run) error {
	outDir := filepath.Join(run.WorkDir, "matted")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrMatting, "matte", "workspace", "could not create output directory", err)
	}

	parallelism := s.cfg.Workflow.FrameParallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	indexes := make(chan int)
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ok := s.matteFrame(run, i, outDir); !ok {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	for i := range run.Records {
		if run.Records[i].DuplicateOf != nil {
			continue
		}
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Duplicates inherit whatever their source ended up with.
	for i := range run.Records {
		if source := run.Records[i].DuplicateOf; source != nil {
			run.FramePaths[i] = run.FramePaths[*source]
			run.Records[i].MattingFailed = run.Records[*source].MattingFailed
		}
	}

	if failed == 0 {
		run.Transparent = true
	} else {
		run.Transparent = false
		run.MattingNote = fmt.Sprintf("%d of %d frames kept opaque after matting failures", failed, len(run.Records))
		s.logger.Warn("partial matting, output stays opaque",
			logging.String(logging.FieldJobID, run.Job.ID),
			logging.Int("failed_frames", failed))
	}
	return nil
}

// matteFrame returns false when the frame fell back to its opaque version.
func (s *matteStage) matteFrame(run *stage.Run, index int, outDir string) bool {
	img := gocv.IMRead(run.FramePaths[index], gocv.IMReadColor)
	if img.Empty() {
		run.Records[index].MattingFailed = true
		return false
	}
	defer img.Close()

	cut, err := s.matter.Cut(img)
	if err != nil {
		s.logger.Warn("matting failed, keeping opaque frame",
			logging.Int("frame", index), logging.Error(err))
		run.Records[index].MattingFailed = true
		return false
	}
	defer cut.Close()

	outPath := filepath.Join(outDir, fmt.Sprintf("frame_%03d.png", index))
	if ok := gocv.IMWrite(outPath, cut); !ok {
		run.Records[index].MattingFailed = true
		return false
	}
	run.FramePaths[index] = outPath
	return true
}

func (s *matteStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("matte")
}
