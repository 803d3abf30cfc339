package storage

import (
	"context"
	"fmt"
	"path"

	"turntable/internal/config"
)

// Store persists job artifacts (frames, sprite sheets, viewer pages) under
// keys of the form "<job-id>/<filename>". Backends are interchangeable; the
// pipeline never depends on local filesystem layout.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// New constructs the artifact store named by the configuration.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "local":
		return NewLocal(cfg.Storage.LocalDir)
	case "s3":
		return NewS3(ctx, cfg.Storage.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// JobKey builds the canonical artifact key for a job file.
func JobKey(jobID, filename string) string {
	return jobID + "/" + filename
}

// ContentTypeFor maps an artifact key to the MIME type it is served with.
func ContentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".webp":
		return "image/webp"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".html":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
