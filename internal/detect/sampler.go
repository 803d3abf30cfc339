package detect

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/services"
)

// Detector locates the primary subject in a single frame. Implementations
// must be safe for concurrent calls.
type Detector interface {
	Detect(frame gocv.Mat) (*Detection, error)
	Close() error
}

// Sampler runs detection over a coarse, uniform time grid of a video. The
// resulting samples feed angle estimation and box interpolation for the
// instants the frame selector picks later.
type Sampler struct {
	detector         Detector
	samplesPerSecond float64
	parallelism      int
	logger           *slog.Logger
}

func NewSampler(cfg *config.Config, detector Detector, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = logging.NewNop()
	}
	parallelism := cfg.Workflow.FrameParallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Sampler{
		detector:         detector,
		samplesPerSecond: cfg.Detect.GridSamplesPerSecond,
		parallelism:      parallelism,
		logger:           logger.With(logging.String(logging.FieldComponent, "detect")),
	}
}

// ScanResult is the outcome of a grid scan.
type ScanResult struct {
	Samples     []Sample
	FrameWidth  int
	FrameHeight int
	FPS         float64
}

// Scan decodes the video sequentially and fans sampled frames out to a
// bounded pool of detection workers. Samples come back ordered by time.
func (s *Sampler) Scan(ctx context.Context, videoPath string) (ScanResult, error) {
	capture, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return ScanResult{}, services.Wrap(services.ErrDetection, "detect", "open", "could not open stabilized video", err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}
	frameWidth := int(capture.Get(gocv.VideoCaptureFrameWidth))
	frameHeight := int(capture.Get(gocv.VideoCaptureFrameHeight))
	stride := int(math.Max(1, math.Round(fps/s.samplesPerSecond)))

	type item struct {
		seconds float64
		frame   gocv.Mat
	}

	var (
		mu       sync.Mutex
		samples  []Sample
		firstErr error
	)
	items := make(chan item, s.parallelism)
	var wg sync.WaitGroup
	for w := 0; w < s.parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range items {
				detection, err := s.detector.Detect(it.frame)
				it.frame.Close()
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					samples = append(samples, Sample{Seconds: it.seconds, Detection: detection})
				}
				mu.Unlock()
			}
		}()
	}

	frame := gocv.NewMat()
	defer frame.Close()

	index := 0
	for ctx.Err() == nil {
		if ok := capture.Read(&frame); !ok {
			break
		}
		if frame.Empty() {
			index++
			continue
		}
		if index%stride == 0 {
			items <- item{seconds: float64(index) / fps, frame: frame.Clone()}
		}
		index++
	}
	close(items)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}
	if firstErr != nil {
		return ScanResult{}, firstErr
	}
	if index == 0 {
		return ScanResult{}, services.Wrap(services.ErrDetection, "detect", "scan", "video has no decodable frames", nil)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Seconds < samples[j].Seconds })

	detected := 0
	for _, sample := range samples {
		if sample.Detection != nil {
			detected++
		}
	}
	s.logger.Info("grid scan complete",
		logging.Int("frames", index),
		logging.Int("samples", len(samples)),
		logging.Int("detections", detected))
	return ScanResult{
		Samples:     samples,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		FPS:         fps,
	}, nil
}
