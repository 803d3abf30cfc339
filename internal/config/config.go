package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	LogDir    string `toml:"log_dir"`
	ModelDir  string `toml:"model_dir"`
	APIBind   string `toml:"api_bind"`
	PublicURL string `toml:"public_url"`
}

// Storage selects and configures the artifact store backing the pipeline.
type Storage struct {
	// Backend is "local" or "s3".
	Backend  string `toml:"backend"`
	LocalDir string `toml:"local_dir"`
	Bucket   string `toml:"bucket"`
}

// Broker configures the queue transport between submitters and workers.
type Broker struct {
	// Backend is "memory" or "redis".
	Backend  string `toml:"backend"`
	RedisURL string `toml:"redis_url"`
	Queue    string `toml:"queue"`
}

// Ingest controls upload validation and the working-copy transcode.
type Ingest struct {
	MinDurationSeconds float64 `toml:"min_duration_seconds"`
	MaxUploadMiB       int64   `toml:"max_upload_mib"`
	TranscodeCodec     string  `toml:"transcode_codec"`
}

// Stabilize configures the two-pass vidstab stage.
type Stabilize struct {
	Shakiness       int `toml:"shakiness"`
	Accuracy        int `toml:"accuracy"`
	SmoothingFrames int `toml:"smoothing_frames"`
}

// Detect configures the vehicle detector and its sampling grid.
type Detect struct {
	ModelFile            string  `toml:"model_file"`
	InputSize            int     `toml:"input_size"`
	ConfidenceThreshold  float64 `toml:"confidence_threshold"`
	NMSThreshold         float64 `toml:"nms_threshold"`
	GridSamplesPerSecond float64 `toml:"grid_samples_per_second"`
	InterpMaxGapSeconds  float64 `toml:"interp_max_gap_seconds"`
}

// Pipeline holds the geometric and angular selection tunables.
type Pipeline struct {
	CanvasWidth                 int     `toml:"canvas_width"`
	CanvasHeight                int     `toml:"canvas_height"`
	PaddingFactor               float64 `toml:"padding_factor"`
	CoverageFullDegrees         float64 `toml:"coverage_full_degrees"`
	ObstructionToleranceDegrees float64 `toml:"obstruction_tolerance_degrees"`
	WebPQuality                 int     `toml:"webp_quality"`
}

// Workflow contains worker pool sizing and daemon timing.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	FrameParallelism   int `toml:"frame_parallelism"`
	StageTimeout       int `toml:"stage_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Turntable.
//
// Configuration sections by subsystem:
//   - Paths: working directories and API bind address
//   - Storage: artifact store backend (local dir or S3 bucket)
//   - Broker: queue transport backend (in-memory or Redis)
//   - Ingest: upload validation limits and working-copy transcode
//   - Stabilize: ffmpeg vidstab parameters
//   - Detect: detector model, thresholds, and grid sampling
//   - Pipeline: canvas geometry, padding, coverage and tolerance policy
//   - Workflow: worker pool sizing and polling intervals
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Storage   Storage   `toml:"storage"`
	Broker    Broker    `toml:"broker"`
	Ingest    Ingest    `toml:"ingest"`
	Stabilize Stabilize `toml:"stabilize"`
	Detect    Detect    `toml:"detect"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Workflow  Workflow  `toml:"workflow"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/turntable/config.toml")
}

// SampleConfig returns the annotated sample configuration shipped with the binary.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("turntable.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == "local" {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for stabilization.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// DetectorModelPath resolves the detector weights file against the model dir.
func (c *Config) DetectorModelPath() string {
	if filepath.IsAbs(c.Detect.ModelFile) {
		return c.Detect.ModelFile
	}
	return filepath.Join(c.Paths.ModelDir, c.Detect.ModelFile)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ModelDir, err = expandPath(c.Paths.ModelDir); err != nil {
		return fmt.Errorf("paths.model_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.PublicURL = strings.TrimRight(strings.TrimSpace(c.Paths.PublicURL), "/")

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = defaultStorageLocalDir
	}
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}

	c.Broker.Backend = strings.ToLower(strings.TrimSpace(c.Broker.Backend))
	if c.Broker.Backend == "" {
		c.Broker.Backend = defaultBrokerBackend
	}
	c.Broker.RedisURL = strings.TrimSpace(c.Broker.RedisURL)
	if c.Broker.RedisURL == "" {
		c.Broker.RedisURL = defaultRedisURL
	}
	c.Broker.Queue = strings.TrimSpace(c.Broker.Queue)
	if c.Broker.Queue == "" {
		c.Broker.Queue = defaultBrokerQueue
	}

	if c.Ingest.MinDurationSeconds <= 0 {
		c.Ingest.MinDurationSeconds = defaultMinDurationSeconds
	}
	if c.Ingest.MaxUploadMiB <= 0 {
		c.Ingest.MaxUploadMiB = defaultMaxUploadMiB
	}
	c.Ingest.TranscodeCodec = strings.TrimSpace(c.Ingest.TranscodeCodec)
	if c.Ingest.TranscodeCodec == "" {
		c.Ingest.TranscodeCodec = defaultTranscodeCodec
	}

	if c.Stabilize.Shakiness <= 0 {
		c.Stabilize.Shakiness = defaultStabilizeShakiness
	}
	if c.Stabilize.Accuracy <= 0 {
		c.Stabilize.Accuracy = defaultStabilizeAccuracy
	}
	if c.Stabilize.SmoothingFrames <= 0 {
		c.Stabilize.SmoothingFrames = defaultStabilizeSmoothing
	}

	c.Detect.ModelFile = strings.TrimSpace(c.Detect.ModelFile)
	if c.Detect.ModelFile == "" {
		c.Detect.ModelFile = defaultDetectModelFile
	}
	if c.Detect.InputSize <= 0 {
		c.Detect.InputSize = defaultDetectInputSize
	}
	if c.Detect.ConfidenceThreshold <= 0 {
		c.Detect.ConfidenceThreshold = defaultDetectConfidence
	}
	if c.Detect.NMSThreshold <= 0 {
		c.Detect.NMSThreshold = defaultDetectNMS
	}
	if c.Detect.GridSamplesPerSecond <= 0 {
		c.Detect.GridSamplesPerSecond = defaultGridSamplesPerSecond
	}
	if c.Detect.InterpMaxGapSeconds <= 0 {
		c.Detect.InterpMaxGapSeconds = defaultInterpMaxGapSeconds
	}

	if c.Pipeline.CanvasWidth <= 0 {
		c.Pipeline.CanvasWidth = defaultCanvasWidth
	}
	if c.Pipeline.CanvasHeight <= 0 {
		c.Pipeline.CanvasHeight = defaultCanvasHeight
	}
	if c.Pipeline.PaddingFactor <= 0 {
		c.Pipeline.PaddingFactor = defaultPaddingFactor
	}
	if c.Pipeline.CoverageFullDegrees <= 0 {
		c.Pipeline.CoverageFullDegrees = defaultCoverageFullDegrees
	}
	if c.Pipeline.ObstructionToleranceDegrees <= 0 {
		c.Pipeline.ObstructionToleranceDegrees = defaultObstructionTolerance
	}
	if c.Pipeline.WebPQuality <= 0 {
		c.Pipeline.WebPQuality = defaultWebPQuality
	}

	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkflowWorkers
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.FrameParallelism <= 0 {
		c.Workflow.FrameParallelism = defaultFrameParallelism
	}
	if c.Workflow.StageTimeout <= 0 {
		c.Workflow.StageTimeout = defaultStageTimeout
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
