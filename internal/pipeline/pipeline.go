package pipeline

import (
	"log/slog"

	"turntable/internal/config"
	"turntable/internal/detect"
	"turntable/internal/stage"
	"turntable/internal/storage"
)

// Stages assembles the processing sequence a worker runs for one job. Order
// matters: each stage consumes what the previous one left on the Run.
func Stages(cfg *config.Config, logger *slog.Logger, artifacts storage.Store, detector detect.Detector) []stage.Handler {
	return []stage.Handler{
		newStabilizeStage(cfg, logger, artifacts),
		newDetectStage(cfg, logger, detector),
		newExtractStage(cfg, logger, detector),
		newNormalizeStage(cfg, logger),
		newMatteStage(cfg, logger),
		newBuildStage(cfg, logger, artifacts),
	}
}
