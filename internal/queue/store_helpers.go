package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job              Job
		statusRaw        string
		stepRaw          string
		removeBackground int
		errorKind        sql.NullString
		errorMessage     sql.NullString
		resultJSON       sql.NullString
		cancelRequested  int
		createdAt        string
		updatedAt        string
		completedAt      sql.NullString
	)

	err := scanner.Scan(
		&job.ID,
		&statusRaw,
		&stepRaw,
		&job.Progress,
		&job.Params.FrameCount,
		&removeBackground,
		&job.SourceVideoRef,
		&errorKind,
		&errorMessage,
		&resultJSON,
		&cancelRequested,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	status, ok := ParseStatus(statusRaw)
	if !ok {
		return nil, fmt.Errorf("unknown job status %q", statusRaw)
	}
	job.Status = status

	step, ok := ParseStep(stepRaw)
	if !ok {
		return nil, fmt.Errorf("unknown job step %q", stepRaw)
	}
	job.Step = step

	job.Params.RemoveBackground = removeBackground != 0
	job.CancelRequested = cancelRequested != 0
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	job.ResultJSON = resultJSON.String

	if job.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid && strings.TrimSpace(completedAt.String) != "" {
		ts, err := parseTimestamp(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &ts
	}

	return &job, nil
}

func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
