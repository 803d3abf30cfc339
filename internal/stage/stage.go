package stage

import (
	"context"
	"time"

	"turntable/internal/detect"
	"turntable/internal/queue"
	"turntable/internal/spinpath"
)

// Handler is one pipeline stage. Execute reads and extends the Run; the
// workflow manager owns status, step, and progress bookkeeping around it.
type Handler interface {
	Step() queue.Step
	Execute(ctx context.Context, run *Run) error
	HealthCheck(ctx context.Context) Health
}

// Run carries one job's in-flight state through the stage sequence. Stages
// communicate through files in WorkDir and the fields below; nothing here is
// shared across jobs.
type Run struct {
	Job     *queue.Job
	WorkDir string

	WorkingCopy     string
	StabilizedVideo string

	Samples      []detect.Sample
	Path         spinpath.Path
	Instants     []spinpath.Instant
	SourceWidth  int
	SourceHeight int
	SourceFPS    float64

	// FramePaths[i] is the current on-disk image for frame index i; stages
	// rewrite entries in place as frames move through the pipeline.
	FramePaths []string
	Records    []queue.FrameRecord

	FrameWidth  int
	FrameHeight int
	Transparent bool
	MattingNote string

	StartedAt time.Time
	Result    *queue.Result
}

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
