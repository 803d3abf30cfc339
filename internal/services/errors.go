package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classify every failure the pipeline can surface. Submission
// errors (ErrInvalidInput, ErrInvalidParameter) are raised before a job row
// exists; the stage errors map one-to-one onto pipeline stages; ErrNotFound
// and ErrNotReady are query-time errors on job lookup.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrStabilization    = errors.New("stabilization error")
	ErrDetection        = errors.New("detection error")
	ErrNormalization    = errors.New("normalization error")
	ErrMatting          = errors.New("matting error")
	ErrBuild            = errors.New("build error")
	ErrNotFound         = errors.New("not found")
	ErrNotReady         = errors.New("not ready")
)

// ErrorDetails carries the classified kind and human-readable message
// extracted from a wrapped stage error.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrBuild
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

var sentinelKinds = []struct {
	marker error
	kind   string
}{
	{ErrInvalidInput, "InvalidInput"},
	{ErrInvalidParameter, "InvalidParameter"},
	{ErrStabilization, "StabilizationError"},
	{ErrDetection, "DetectionError"},
	{ErrNormalization, "NormalizationError"},
	{ErrMatting, "MattingError"},
	{ErrBuild, "BuildError"},
	{ErrNotFound, "NotFound"},
	{ErrNotReady, "NotReady"},
}

// Kind maps an error to its externally visible kind string, or "" when the
// error carries no known marker. The outermost marker wins: a stage failure
// that wraps an already-classified cause reports the stage's kind, not the
// cause's.
func Kind(err error) string {
	marker := outermostMarker(err)
	for _, entry := range sentinelKinds {
		if marker == entry.marker {
			return entry.kind
		}
	}
	return ""
}

// outermostMarker walks the unwrap tree in wrapping order and returns the
// first sentinel encountered. Wrap always places the marker before the cause,
// so the shallowest classification is found first.
func outermostMarker(err error) error {
	if err == nil {
		return nil
	}
	for _, entry := range sentinelKinds {
		if err == entry.marker {
			return err
		}
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() error }:
		return outermostMarker(wrapped.Unwrap())
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if marker := outermostMarker(inner); marker != nil {
				return marker
			}
		}
	}
	return nil
}

// Details extracts the classified kind and a trimmed message from err.
// Unclassified errors report kind "InternalError" with the raw message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	kind := Kind(err)
	if kind == "" {
		kind = "InternalError"
	}
	message := err.Error()
	// Strip the leading sentinel text so stored messages read naturally.
	for _, entry := range sentinelKinds {
		prefix := entry.marker.Error() + ": "
		if strings.HasPrefix(message, prefix) {
			message = strings.TrimPrefix(message, prefix)
			break
		}
	}
	return ErrorDetails{Kind: kind, Message: strings.TrimSpace(message)}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
