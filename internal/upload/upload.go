package upload

import (
	"context"
	"fmt"
	"time"
)

// Metadata describes the recording inside an archive
type Metadata struct {
	SessionID string
	StartedAt time.Time
	StoppedAt time.Time
}

// Result describes a finished upload
type Result struct {
	Location string        `json:"location"`
	Bytes    int64         `json:"bytes"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Uploader sends a file to remote storage
type Uploader interface {
	Name() string
	Upload(ctx context.Context, path string, meta Metadata) (*Result, error)
}

// Config selects and configures an uploader
type Config struct {
	Kind       string // "", "http" or "s3"
	Endpoint   string
	APIKey     string
	Bucket     string
	Prefix     string
	Region     string
	Timeout    time.Duration
	MaxRetries int
}

// New creates the uploader selected by cfg.Kind, or nil when uploads are disabled
func New(ctx context.Context, cfg Config) (Uploader, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "http":
		c, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "s3":
		u, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, fmt.Errorf("unknown uploader kind: %s", cfg.Kind)
	}
}
