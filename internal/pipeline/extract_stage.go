package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/detect"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/spinpath"
	"turntable/internal/stage"
)

// extractStage selects the angular instants and grabs one raw frame per
// instant from the stabilized video, attaching a real, interpolated, or
// absent bounding box to each.
type extractStage struct {
	cfg      *config.Config
	logger   *slog.Logger
	detector detect.Detector
}

func newExtractStage(cfg *config.Config, logger *slog.Logger, detector detect.Detector) *extractStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &extractStage{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "extract")),
		detector: detector,
	}
}

func (s *extractStage) Step() queue.Step { return queue.StepExtracting }

func (s *extractStage) Execute(ctx context.Context, run *stage.Run) error {
	run.Instants = spinpath.Select(run.Path, run.Job.Params.FrameCount,
		s.cfg.Pipeline.CoverageFullDegrees, s.cfg.Pipeline.ObstructionToleranceDegrees)
	if len(run.Instants) != run.Job.Params.FrameCount {
		return services.Wrap(services.ErrDetection, "extract", "select",
			fmt.Sprintf("selected %d instants, expected %d", len(run.Instants), run.Job.Params.FrameCount), nil)
	}

	framesDir := filepath.Join(run.WorkDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return services.Wrap(services.ErrDetection, "extract", "workspace", "could not create frames directory", err)
	}

	capture, err := gocv.VideoCaptureFile(run.StabilizedVideo)
	if err != nil {
		return services.Wrap(services.ErrDetection, "extract", "open", "could not open stabilized video", err)
	}
	defer capture.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	run.FramePaths = make([]string, len(run.Instants))
	run.Records = make([]queue.FrameRecord, len(run.Instants))

	for _, instant := range run.Instants {
		if err := ctx.Err(); err != nil {
			return err
		}

		record := queue.FrameRecord{
			Index:           instant.Index,
			AngleDegrees:    instant.TargetAngle,
			SourceTimestamp: instant.Seconds,
			LowConfidence:   instant.LowConfidence,
			DuplicateOf:     instant.DuplicateOf,
		}

		if instant.DuplicateOf != nil {
			source := *instant.DuplicateOf
			run.FramePaths[instant.Index] = run.FramePaths[source]
			record.BoundingBox = run.Records[source].BoundingBox
			record.DetectionConfidence = run.Records[source].DetectionConfidence
			run.Records[instant.Index] = record
			continue
		}

		capture.Set(gocv.VideoCapturePosMsec, instant.Seconds*1000)
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			return services.Wrap(services.ErrDetection, "extract", "grab",
				fmt.Sprintf("could not decode frame at %.2fs", instant.Seconds), nil)
		}

		framePath := filepath.Join(framesDir, fmt.Sprintf("frame_%03d.png", instant.Index))
		if ok := gocv.IMWrite(framePath, frame); !ok {
			return services.Wrap(services.ErrDetection, "extract", "write",
				fmt.Sprintf("could not write frame %d", instant.Index), nil)
		}
		run.FramePaths[instant.Index] = framePath

		s.attachBox(&record, frame, run.Samples, instant.Seconds)
		run.Records[instant.Index] = record
	}
	return nil
}

// attachBox runs detection at the exact instant; when it misses, the box is
// interpolated from the grid scan. With no detection in reach the frame
// keeps a nil box and gets flagged low confidence.
func (s *extractStage) attachBox(record *queue.FrameRecord, frame gocv.Mat, samples []detect.Sample, seconds float64) {
	detection, err := s.detector.Detect(frame)
	if err != nil {
		s.logger.Warn("detection failed at selected instant, interpolating",
			logging.Int("frame", record.Index), logging.Error(err))
		detection = nil
	}
	if detection == nil {
		interpolated, ok := detect.InterpolateAt(samples, seconds, s.cfg.Detect.InterpMaxGapSeconds)
		if !ok {
			record.LowConfidence = true
			return
		}
		detection = interpolated
	}
	box := detection.Box
	confidence := detection.Confidence
	record.BoundingBox = &box
	record.DetectionConfidence = &confidence
}

func (s *extractStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("extract")
}
