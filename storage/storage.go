package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no object exists at a key
var ErrNotFound = errors.New("object not found")

// Storage interface for archived object operations
type Storage interface {
	// Put stores data under key, replacing any existing object
	Put(ctx context.Context, key string, contentType string, data io.Reader) error

	// Get retrieves the object stored under key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored under key
	Delete(ctx context.Context, key string) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// StorageConfig holds configuration for storage
type StorageConfig struct {
	Type         StorageType
	LocalPath    string // For local storage
	S3Bucket     string // For S3 storage
	S3Region     string // For S3 storage
	AWSAccessKey string
	AWSSecretKey string
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg StorageConfig) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.LocalPath)
	case StorageTypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET is required for S3 storage")
		}
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// TranscriptPath returns the storage key of a run's diagnostic transcript
func TranscriptPath(runID uuid.UUID) string {
	id := runID.String()
	return fmt.Sprintf("transcripts/%s/%s.json", id[:2], id)
}

// cleanKey rejects keys that could escape the storage root
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", errors.New("empty storage key")
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid storage key: %s", key)
		}
	}
	return key, nil
}
