package config

const (
	defaultWorkDir              = "~/.local/share/turntable/work"
	defaultLogDir               = "~/.local/share/turntable/logs"
	defaultModelDir             = "~/.local/share/turntable/models"
	defaultAPIBind              = "127.0.0.1:7641"
	defaultStorageBackend       = "local"
	defaultStorageLocalDir      = "~/.local/share/turntable/artifacts"
	defaultBrokerBackend        = "memory"
	defaultRedisURL             = "redis://127.0.0.1:6379/0"
	defaultBrokerQueue          = "turntable:jobs"
	defaultMinDurationSeconds   = 5.0
	defaultMaxUploadMiB         = 512
	defaultTranscodeCodec       = "libx264"
	defaultStabilizeShakiness   = 5
	defaultStabilizeAccuracy    = 15
	defaultStabilizeSmoothing   = 30
	defaultDetectModelFile      = "vehicle-yolov8n.onnx"
	defaultDetectInputSize      = 640
	defaultDetectConfidence     = 0.5
	defaultDetectNMS            = 0.45
	defaultGridSamplesPerSecond = 2.0
	defaultInterpMaxGapSeconds  = 4.0
	defaultCanvasWidth          = 800
	defaultCanvasHeight         = 600
	defaultPaddingFactor        = 1.3
	defaultCoverageFullDegrees  = 330.0
	defaultObstructionTolerance = 5.0
	defaultWebPQuality          = 80
	defaultWorkflowWorkers      = 2
	defaultQueuePollInterval    = 2
	defaultErrorRetryInterval   = 5
	defaultFrameParallelism     = 4
	defaultStageTimeout         = 1800
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
			ModelDir: defaultModelDir,
			APIBind:  defaultAPIBind,
		},
		Storage: Storage{
			Backend:  defaultStorageBackend,
			LocalDir: defaultStorageLocalDir,
		},
		Broker: Broker{
			Backend:  defaultBrokerBackend,
			RedisURL: defaultRedisURL,
			Queue:    defaultBrokerQueue,
		},
		Ingest: Ingest{
			MinDurationSeconds: defaultMinDurationSeconds,
			MaxUploadMiB:       defaultMaxUploadMiB,
			TranscodeCodec:     defaultTranscodeCodec,
		},
		Stabilize: Stabilize{
			Shakiness:       defaultStabilizeShakiness,
			Accuracy:        defaultStabilizeAccuracy,
			SmoothingFrames: defaultStabilizeSmoothing,
		},
		Detect: Detect{
			ModelFile:            defaultDetectModelFile,
			InputSize:            defaultDetectInputSize,
			ConfidenceThreshold:  defaultDetectConfidence,
			NMSThreshold:         defaultDetectNMS,
			GridSamplesPerSecond: defaultGridSamplesPerSecond,
			InterpMaxGapSeconds:  defaultInterpMaxGapSeconds,
		},
		Pipeline: Pipeline{
			CanvasWidth:                 defaultCanvasWidth,
			CanvasHeight:                defaultCanvasHeight,
			PaddingFactor:               defaultPaddingFactor,
			CoverageFullDegrees:         defaultCoverageFullDegrees,
			ObstructionToleranceDegrees: defaultObstructionTolerance,
			WebPQuality:                 defaultWebPQuality,
		},
		Workflow: Workflow{
			Workers:            defaultWorkflowWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			FrameParallelism:   defaultFrameParallelism,
			StageTimeout:       defaultStageTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
