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
	"turntable/internal/normalize"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/stage"
)

// normalizeStage centers and equalizes every extracted frame onto the fixed
// canvas. Frames are independent, so they fan out across a bounded pool;
// duplicates share their source's output and are skipped.
type normalizeStage struct {
	cfg        *config.Config
	logger     *slog.Logger
	normalizer *normalize.Normalizer
}

func newNormalizeStage(cfg *config.Config, logger *slog.Logger) *normalizeStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &normalizeStage{
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "normalize")),
		normalizer: normalize.New(cfg),
	}
}

func (s *normalizeStage) Step() queue.Step { return queue.StepNormalizing }

func (s *normalizeStage) Execute(ctx context.Context, run *stage.Run) error {
	outDir := filepath.Join(run.WorkDir, "normalized")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrNormalization, "normalize", "workspace", "could not create output directory", err)
	}

	parallelism := s.cfg.Workflow.FrameParallelism
	if parallelism < 1 {
		parallelism = 1
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	indexes := make(chan int)
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if err := s.normalizeFrame(run, i, outDir); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
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

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Duplicates point at their source's normalized output.
	for i := range run.Records {
		if source := run.Records[i].DuplicateOf; source != nil {
			run.FramePaths[i] = run.FramePaths[*source]
		}
	}
	run.FrameWidth = s.cfg.Pipeline.CanvasWidth
	run.FrameHeight = s.cfg.Pipeline.CanvasHeight
	return nil
}

func (s *normalizeStage) normalizeFrame(run *stage.Run, index int, outDir string) error {
	img := gocv.IMRead(run.FramePaths[index], gocv.IMReadColor)
	if img.Empty() {
		return services.Wrap(services.ErrNormalization, "normalize", "read",
			fmt.Sprintf("could not read frame %d", index), nil)
	}
	defer img.Close()

	var box queue.BoundingBox
	if run.Records[index].BoundingBox != nil {
		box = *run.Records[index].BoundingBox
	}

	out, err := s.normalizer.Apply(img, box)
	if err != nil {
		return err
	}
	defer out.Close()

	outPath := filepath.Join(outDir, fmt.Sprintf("frame_%03d.png", index))
	if ok := gocv.IMWrite(outPath, out); !ok {
		return services.Wrap(services.ErrNormalization, "normalize", "write",
			fmt.Sprintf("could not write normalized frame %d", index), nil)
	}
	run.FramePaths[index] = outPath
	return nil
}

func (s *normalizeStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("normalize")
}
