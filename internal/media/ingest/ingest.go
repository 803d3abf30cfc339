package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/xfrr/goffmpeg/transcoder"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/media/ffprobe"
	"turntable/internal/services"
)

// Probe summarizes the properties of an uploaded walk-around video that the
// rest of the pipeline depends on.
type Probe struct {
	DurationSeconds float64
	Width           int
	Height          int
	FrameRate       float64
	FrameCount      int
	CodecName       string
}

// Ingestor validates uploads and produces the normalized working copy the
// pipeline stages read from.
type Ingestor struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingestor{cfg: cfg, logger: logger.With(logging.String(logging.FieldComponent, "ingest"))}
}

// Validate probes the uploaded file and rejects inputs the pipeline cannot
// process.
func (i *Ingestor) Validate(ctx context.Context, path string) (Probe, error) {
	result, err := ffprobe.Inspect(ctx, i.cfg.FFprobeBinary(), path)
	if err != nil {
		return Probe{}, services.Wrap(services.ErrInvalidInput, "ingest", "probe", "could not read uploaded video", err)
	}
	return Evaluate(result, i.cfg.Ingest.MinDurationSeconds)
}

// Evaluate applies the upload acceptance rules to a probe result.
func Evaluate(result ffprobe.Result, minDurationSeconds float64) (Probe, error) {
	video, ok := result.PrimaryVideoStream()
	if !ok {
		return Probe{}, services.Wrap(services.ErrInvalidInput, "ingest", "validate", "upload contains no video stream", nil)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return Probe{}, services.Wrap(services.ErrInvalidInput, "ingest", "validate", "video stream reports no dimensions", nil)
	}

	duration := result.DurationSeconds()
	if math.IsNaN(duration) || duration <= 0 {
		return Probe{}, services.Wrap(services.ErrInvalidInput, "ingest", "validate", "video duration is unreadable", nil)
	}
	if duration < minDurationSeconds {
		return Probe{}, services.Wrap(services.ErrInvalidInput, "ingest", "validate",
			fmt.Sprintf("video is %.1fs, need at least %.1fs for a full walk-around", duration, minDurationSeconds), nil)
	}

	return Probe{
		DurationSeconds: duration,
		Width:           video.Width,
		Height:          video.Height,
		FrameRate:       video.FrameRate(),
		FrameCount:      video.FrameCount(),
		CodecName:       video.CodecName,
	}, nil
}

// WorkingCopy transcodes the upload into a uniform H.264 MP4 inside the job
// workspace so every downstream stage reads one predictable container. Inputs
// already in that shape are copied through untouched.
func (i *Ingestor) WorkingCopy(ctx context.Context, sourcePath, destPath string, probe Probe) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return services.Wrap(services.ErrInvalidInput, "ingest", "workspace", "could not create job workspace", err)
	}

	if probe.CodecName == "h264" && filepath.Ext(sourcePath) == ".mp4" {
		i.logger.Info("upload already normalized, copying through", logging.String("source", sourcePath))
		return copyFile(sourcePath, destPath)
	}

	i.logger.Info("transcoding working copy",
		logging.String("source", sourcePath),
		logging.String("codec", i.cfg.Ingest.TranscodeCodec))

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(sourcePath, destPath); err != nil {
		return services.Wrap(services.ErrInvalidInput, "ingest", "transcode", "could not initialize transcoder", err)
	}
	trans.MediaFile().SetVideoCodec(i.cfg.Ingest.TranscodeCodec)
	trans.MediaFile().SetSkipAudio(true)

	done := trans.Run(false)
	select {
	case err := <-done:
		if err != nil {
			return services.Wrap(services.ErrInvalidInput, "ingest", "transcode", "transcode to working copy failed", err)
		}
	case <-ctx.Done():
		trans.Stop()
		return ctx.Err()
	}
	return nil
}

func copyFile(source, dest string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write working copy: %w", err)
	}
	return nil
}
