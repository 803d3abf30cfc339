package stabilize

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/services"
)

// Stabilizer cancels camera shake in the working copy with ffmpeg's vidstab
// filters. Pass one analyzes frame-to-frame motion into a transforms file,
// pass two applies smoothed inverse transforms so the intentional walking arc
// survives while jitter is removed.
type Stabilizer struct {
	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Stabilizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stabilizer{cfg: cfg, logger: logger.With(logging.String(logging.FieldComponent, "stabilize"))}
}

// Available reports whether the ffmpeg binary can be found.
func (s *Stabilizer) Available() error {
	if _, err := exec.LookPath(s.cfg.FFmpegBinary()); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Run stabilizes inputPath into workDir and returns the stabilized video
// path. The transforms file stays in workDir alongside the output.
func (s *Stabilizer) Run(ctx context.Context, inputPath, workDir string) (string, error) {
	transformsPath := filepath.Join(workDir, "transforms.trf")
	outputPath := filepath.Join(workDir, "stabilized.mp4")

	s.logger.Info("analyzing camera motion", logging.String("input", inputPath))
	if err := s.runFFmpeg(ctx, detectArgs(inputPath, transformsPath, s.cfg.Stabilize.Shakiness, s.cfg.Stabilize.Accuracy)); err != nil {
		return "", services.Wrap(services.ErrStabilization, "stabilize", "detect", "motion analysis pass failed", err)
	}

	s.logger.Info("applying smoothed transforms", logging.Int("smoothing_frames", s.cfg.Stabilize.SmoothingFrames))
	if err := s.runFFmpeg(ctx, transformArgs(inputPath, transformsPath, outputPath, s.cfg.Stabilize.SmoothingFrames)); err != nil {
		return "", services.Wrap(services.ErrStabilization, "stabilize", "transform", "stabilization pass failed", err)
	}

	return outputPath, nil
}

func detectArgs(inputPath, transformsPath string, shakiness, accuracy int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("vidstabdetect=shakiness=%d:accuracy=%d:result=%s", shakiness, accuracy, transformsPath),
		"-f", "null", "-",
	}
}

func transformArgs(inputPath, transformsPath, outputPath string, smoothing int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("vidstabtransform=input=%s:smoothing=%d:interpol=bicubic,unsharp=5:5:0.8:3:3:0.4", transformsPath, smoothing),
		"-c:v", "libx264", "-preset", "fast", "-crf", "18", "-an",
		outputPath,
	}
}

func (s *Stabilizer) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, s.cfg.FFmpegBinary(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(string(output), 400))
	}
	return nil
}

// tail returns the last n bytes of tool output so error messages stay short.
func tail(output string, n int) string {
	trimmed := strings.TrimSpace(output)
	if len(trimmed) <= n {
		return trimmed
	}
	return "..." + trimmed[len(trimmed)-n:]
}
