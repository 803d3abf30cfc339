package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the externally visible lifecycle of a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusSuccess, StatusFailure}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Step identifies the pipeline stage a PROCESSING job is executing. A FAILURE
// job retains the step that failed.
type Step string

const (
	StepQueued             Step = "queued"
	StepStabilizing        Step = "stabilizing"
	StepDetecting          Step = "detecting"
	StepExtracting         Step = "extracting"
	StepNormalizing        Step = "normalizing"
	StepRemovingBackground Step = "removing_background"
	StepBuilding           Step = "building"
	StepDone               Step = "done"
)

// stepOrder fixes both the execution sequence and the progress checkpoint
// reached when the step begins. Progress never regresses because steps only
// advance through this table.
var stepOrder = []struct {
	step       Step
	checkpoint int
}{
	{StepQueued, 0},
	{StepStabilizing, 10},
	{StepDetecting, 30},
	{StepExtracting, 45},
	{StepNormalizing, 65},
	{StepRemovingBackground, 80},
	{StepBuilding, 95},
	{StepDone, 100},
}

// Checkpoint returns the progress value associated with entering the step.
func (s Step) Checkpoint() int {
	for _, entry := range stepOrder {
		if entry.step == s {
			return entry.checkpoint
		}
	}
	return 0
}

// ParseStep converts a string into a known Step.
func ParseStep(value string) (Step, bool) {
	normalized := Step(strings.ToLower(strings.TrimSpace(value)))
	for _, entry := range stepOrder {
		if entry.step == normalized {
			return normalized, true
		}
	}
	return "", false
}

// Steps returns the ordered pipeline steps.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	for i, entry := range stepOrder {
		out[i] = entry.step
	}
	return out
}

// Params are the validated submission parameters for one job.
type Params struct {
	FrameCount       int  `json:"frame_count"`
	RemoveBackground bool `json:"remove_background"`
}

// BoundingBox locates the subject in source-frame coordinates.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area in pixels.
func (b BoundingBox) Area() int { return b.Width() * b.Height() }

// FrameRecord is one selected, processed output frame.
type FrameRecord struct {
	Index               int          `json:"index"`
	AngleDegrees        float64      `json:"angle_degrees"`
	SourceTimestamp     float64      `json:"source_timestamp"`
	BoundingBox         *BoundingBox `json:"bounding_box"`
	DetectionConfidence *float64     `json:"detection_confidence"`
	ImageRef            string       `json:"image_ref"`
	LowConfidence       bool         `json:"low_confidence,omitempty"`
	MattingFailed       bool         `json:"matting_failed,omitempty"`
	DuplicateOf         *int         `json:"duplicate_of,omitempty"`
}

// ResultMetadata summarizes a completed frame set.
type ResultMetadata struct {
	TotalFrames           int     `json:"total_frames"`
	FrameWidth            int     `json:"frame_width"`
	FrameHeight           int     `json:"frame_height"`
	Format                string  `json:"format"`
	Transparent           bool    `json:"transparent"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	CoverageDegrees       float64 `json:"coverage_degrees"`
	PartialCoverage       bool    `json:"partial_coverage,omitempty"`
	DegradedSampling      bool    `json:"degraded_sampling,omitempty"`
	MattingNote           string  `json:"matting_note,omitempty"`
}

// Result is the terminal artifact bundle for a SUCCESS job.
type Result struct {
	Frames    []FrameRecord  `json:"frames"`
	SpriteRef string         `json:"sprite_ref,omitempty"`
	ViewerRef string         `json:"viewer_ref"`
	Metadata  ResultMetadata `json:"metadata"`
}

// Job is one processing request persisted in SQLite.
type Job struct {
	ID              string
	Status          Status
	Step            Step
	Progress        int
	Params          Params
	SourceVideoRef  string
	ErrorKind       string
	ErrorMessage    string
	ResultJSON      string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Result decodes the stored result payload. Returns nil when none is stored.
func (j *Job) Result() (*Result, error) {
	if strings.TrimSpace(j.ResultJSON) == "" {
		return nil, nil
	}
	var result Result
	if err := json.Unmarshal([]byte(j.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("decode result payload: %w", err)
	}
	return &result, nil
}

// EncodeResult serializes a result bundle for storage.
func EncodeResult(result *Result) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result payload: %w", err)
	}
	return string(raw), nil
}
