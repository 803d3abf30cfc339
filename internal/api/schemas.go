package api

import (
	"time"

	"turntable/internal/queue"
)

// ErrorBody carries a classified failure back to the client.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// UploadResponse acknowledges an accepted submission.
type UploadResponse struct {
	TaskID  string       `json:"task_id"`
	Status  queue.Status `json:"status"`
	Message string       `json:"message"`
}

// StatusResponse reports the current lifecycle state of a job.
type StatusResponse struct {
	TaskID    string       `json:"task_id"`
	Status    queue.Status `json:"status"`
	Progress  int          `json:"progress"`
	Step      queue.Step   `json:"step"`
	CreatedAt time.Time    `json:"created_at"`
	Error     *ErrorBody   `json:"error,omitempty"`
}

// ResultBody is the artifact bundle of a finished job, with storage keys
// resolved into fetchable URLs.
type ResultBody struct {
	ViewerURL string               `json:"viewer_url"`
	SpriteURL string               `json:"sprite_url,omitempty"`
	Frames    []FrameBody          `json:"frames"`
	Metadata  queue.ResultMetadata `json:"metadata"`
}

// FrameBody is one output frame with its image key resolved into a URL.
type FrameBody struct {
	Index               int                `json:"index"`
	AngleDegrees        float64            `json:"angle_degrees"`
	SourceTimestamp     float64            `json:"source_timestamp"`
	BoundingBox         *queue.BoundingBox `json:"bounding_box"`
	DetectionConfidence *float64           `json:"detection_confidence"`
	ImageURL            string             `json:"image_url"`
	LowConfidence       bool               `json:"low_confidence,omitempty"`
	MattingFailed       bool               `json:"matting_failed,omitempty"`
	DuplicateOf         *int               `json:"duplicate_of,omitempty"`
}

// ResultResponse wraps the terminal outcome of a job. A FAILURE job reports
// its failing step and error in place of a result.
type ResultResponse struct {
	TaskID string       `json:"task_id"`
	Status queue.Status `json:"status"`
	Step   queue.Step   `json:"step,omitempty"`
	Result *ResultBody  `json:"result,omitempty"`
	Error  *ErrorBody   `json:"error,omitempty"`
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	TaskID           string       `json:"task_id"`
	Status           queue.Status `json:"status"`
	Step             queue.Step   `json:"step"`
	Progress         int          `json:"progress"`
	FrameCount       int          `json:"frame_count"`
	RemoveBackground bool         `json:"remove_background"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ErrorKind        string       `json:"error_kind,omitempty"`
}

// ListResponse enumerates known jobs, oldest first.
type ListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// StageHealthBody reports one pipeline stage's readiness.
type StageHealthBody struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse summarizes daemon readiness.
type HealthResponse struct {
	Status string            `json:"status"`
	Stages []StageHealthBody `json:"stages,omitempty"`
}

// DeleteResponse acknowledges a deletion. Deleting an unknown job succeeds.
type DeleteResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}
