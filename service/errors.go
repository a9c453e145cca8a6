package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidQuery         = errors.New("query must be between 2 and 300 characters")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrModelFailed          = errors.New("language model request failed")
	ErrSchemaValidation     = errors.New("answer failed schema validation")
	ErrServiceNotConfigured = errors.New("decode service not fully configured")
)

// ValidationError lists every problem found in a model's final output
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrSchemaValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrSchemaValidation
}

// RunError ties a failure to the run whose transcript was archived
type RunError struct {
	RunID uuid.UUID
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
