package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/services"
	"turntable/internal/storage"
)

// allowedExtensions are the upload container formats ffmpeg is expected to
// decode without surprises.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

func errorJSON(c *gin.Context, status int, kind, message string) {
	c.JSON(status, gin.H{"error": ErrorBody{Kind: kind, Message: message}})
}

// uploadVideo accepts a walk-around video, validates it, stores it under the
// new job's artifact prefix, and enqueues processing.
func (s *Server) uploadVideo(c *gin.Context) {
	ctx := c.Request.Context()

	frames, err := strconv.Atoi(c.DefaultPostForm("frames", "36"))
	if err != nil || !config.IsValidFrameCount(frames) {
		errorJSON(c, http.StatusBadRequest, "InvalidParameter", "frames must be 24, 36, or 72")
		return
	}
	removeBackground, err := strconv.ParseBool(c.DefaultPostForm("remove_background", "false"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "InvalidParameter", "remove_background must be a boolean")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "InvalidInput", "missing video file field \"file\"")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		errorJSON(c, http.StatusBadRequest, "InvalidInput", "unsupported video format "+ext)
		return
	}
	if file.Size > s.cfg.Ingest.MaxUploadMiB<<20 {
		errorJSON(c, http.StatusBadRequest, "InvalidInput",
			"file exceeds the upload limit of "+strconv.FormatInt(s.cfg.Ingest.MaxUploadMiB, 10)+" MiB")
		return
	}

	id := uuid.NewString()
	incomingDir := filepath.Join(s.cfg.Paths.WorkDir, "incoming")
	if err := os.MkdirAll(incomingDir, 0o755); err != nil {
		s.logger.Error("could not create incoming dir", logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not store upload")
		return
	}
	tmpPath := filepath.Join(incomingDir, id+ext)
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		s.logger.Error("could not save upload", logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not store upload")
		return
	}
	defer os.Remove(tmpPath)

	probe, err := s.validate(ctx, tmpPath)
	if err != nil {
		details := services.Details(err)
		errorJSON(c, http.StatusBadRequest, details.Kind, details.Message)
		return
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		s.logger.Error("could not read upload back", logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not store upload")
		return
	}
	sourceKey := storage.JobKey(id, "source"+ext)
	if err := s.artifacts.Put(ctx, sourceKey, data); err != nil {
		s.logger.Error("could not store source video", logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not store upload")
		return
	}

	job, err := s.store.NewJob(ctx, id, sourceKey, queue.Params{
		FrameCount:       frames,
		RemoveBackground: removeBackground,
	})
	if err != nil {
		s.logger.Error("could not create job", logging.Error(err))
		_ = s.artifacts.DeletePrefix(ctx, id+"/")
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not create job")
		return
	}

	// A lost publish is not fatal: the reconciler re-enqueues PENDING jobs
	// that sit past the poll interval.
	if err := s.broker.Publish(ctx, job.ID); err != nil {
		s.logger.Warn("could not publish job, deferring to reconciler",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}

	s.logger.Info("job accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("frame_count", frames),
		logging.Bool("remove_background", removeBackground),
		logging.Float64("duration_seconds", probe.DurationSeconds),
		logging.Int("width", probe.Width),
		logging.Int("height", probe.Height))

	c.JSON(http.StatusAccepted, UploadResponse{
		TaskID:  job.ID,
		Status:  job.Status,
		Message: "video accepted, processing queued",
	})
}

// listJobs enumerates jobs, optionally filtered by a comma-separated status
// set (?status=PENDING,PROCESSING).
func (s *Server) listJobs(c *gin.Context) {
	var statuses []queue.Status
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := queue.ParseStatus(part)
			if !ok {
				errorJSON(c, http.StatusBadRequest, "InvalidParameter", "unknown status "+part)
				return
			}
			statuses = append(statuses, status)
		}
	}

	jobs, err := s.store.List(c.Request.Context(), statuses...)
	if err != nil {
		s.logger.Error("job listing failed", logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "job listing failed")
		return
	}

	resp := ListResponse{Jobs: make([]JobSummary, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, JobSummary{
			TaskID:           job.ID,
			Status:           job.Status,
			Step:             job.Step,
			Progress:         job.Progress,
			FrameCount:       job.Params.FrameCount,
			RemoveBackground: job.Params.RemoveBackground,
			CreatedAt:        job.CreatedAt,
			UpdatedAt:        job.UpdatedAt,
			ErrorKind:        job.ErrorKind,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStatus(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	resp := StatusResponse{
		TaskID:    job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Step:      job.Step,
		CreatedAt: job.CreatedAt,
	}
	if job.ErrorKind != "" {
		resp.Error = &ErrorBody{Kind: job.ErrorKind, Message: job.ErrorMessage}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getResult(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	switch job.Status {
	case queue.StatusPending, queue.StatusProcessing:
		errorJSON(c, http.StatusConflict, "NotReady", "job has not finished processing")
		return
	case queue.StatusFailure:
		c.JSON(http.StatusOK, ResultResponse{
			TaskID: job.ID,
			Status: job.Status,
			Step:   job.Step,
			Error:  &ErrorBody{Kind: job.ErrorKind, Message: job.ErrorMessage},
		})
		return
	}

	result, err := job.Result()
	if err != nil || result == nil {
		s.logger.Error("could not decode stored result",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "stored result is unreadable")
		return
	}

	body := &ResultBody{
		ViewerURL: s.artifactURL(result.ViewerRef),
		SpriteURL: s.artifactURL(result.SpriteRef),
		Frames:    make([]FrameBody, 0, len(result.Frames)),
		Metadata:  result.Metadata,
	}
	for _, frame := range result.Frames {
		body.Frames = append(body.Frames, FrameBody{
			Index:               frame.Index,
			AngleDegrees:        frame.AngleDegrees,
			SourceTimestamp:     frame.SourceTimestamp,
			BoundingBox:         frame.BoundingBox,
			DetectionConfidence: frame.DetectionConfidence,
			ImageURL:            s.artifactURL(frame.ImageRef),
			LowConfidence:       frame.LowConfidence,
			MattingFailed:       frame.MattingFailed,
			DuplicateOf:         frame.DuplicateOf,
		})
	}

	c.JSON(http.StatusOK, ResultResponse{TaskID: job.ID, Status: job.Status, Result: body})
}

// deleteVideo removes a job and everything stored for it. The cancel flag is
// raised first so an in-flight run stops at its next stage boundary instead
// of publishing into the deleted prefix.
func (s *Server) deleteVideo(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("task_id")

	if err := s.store.RequestCancel(ctx, id); err != nil {
		s.logger.Error("could not flag cancellation", logging.String(logging.FieldJobID, id), logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not delete job")
		return
	}
	if err := s.artifacts.DeletePrefix(ctx, id+"/"); err != nil {
		s.logger.Error("could not delete artifacts", logging.String(logging.FieldJobID, id), logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not delete job artifacts")
		return
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Error("could not delete job row", logging.String(logging.FieldJobID, id), logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "could not delete job")
		return
	}

	c.JSON(http.StatusOK, DeleteResponse{TaskID: id, Message: "job deleted"})
}

func (s *Server) healthCheck(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		for _, health := range s.health.HealthCheck(c.Request.Context()) {
			resp.Stages = append(resp.Stages, StageHealthBody{
				Name:   health.Name,
				Ready:  health.Ready,
				Detail: health.Detail,
			})
			if !health.Ready {
				resp.Status = "degraded"
			}
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// serveArtifact fronts the local artifact store. Keys are constrained to the
// "<job-id>/<filename>" shape the pipeline writes.
func (s *Server) serveArtifact(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "..") {
		c.Status(http.StatusBadRequest)
		return
	}
	data, err := s.artifacts.Get(c.Request.Context(), key)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, storage.ContentTypeFor(key), data)
}

// lookupJob fetches the path's job or writes a 404.
func (s *Server) lookupJob(c *gin.Context) (*queue.Job, bool) {
	job, err := s.store.GetByID(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		s.logger.Error("job lookup failed", logging.Error(err))
		errorJSON(c, http.StatusInternalServerError, "InternalError", "job lookup failed")
		return nil, false
	}
	if job == nil {
		errorJSON(c, http.StatusNotFound, "NotFound", "no such job")
		return nil, false
	}
	return job, true
}
