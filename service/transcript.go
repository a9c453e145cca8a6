package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"decodebook-backend/models"
	"decodebook-backend/storage"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

const archiveTimeout = 10 * time.Second

// ErrTranscriptNotFound is returned when no transcript was archived for a run
var ErrTranscriptNotFound = errors.New("transcript not found")

// Transcript is the diagnostic record of a run that ended without an answer
type Transcript struct {
	RunID      uuid.UUID              `json:"run_id"`
	Query      string                 `json:"query"`
	Outcome    Outcome                `json:"outcome"`
	Failure    string                 `json:"failure,omitempty"`
	Steps      []models.ReasoningStep `json:"steps"`
	RawOutputs []string               `json:"raw_outputs"`
	CreatedAt  time.Time              `json:"created_at"`
}

// archiveTranscript stores the run's ledger in canonical JSON
// It runs detached from the request so a cancelled client still leaves a record
func (s *DecodeService) archiveTranscript(ctx context.Context, runID uuid.UUID, query string, outcome Outcome, failure error, ledger *evidenceLedger) {
	if s.archive == nil {
		return
	}

	transcript := Transcript{
		RunID:      runID,
		Query:      query,
		Outcome:    outcome,
		Steps:      ledger.snapshot(),
		RawOutputs: ledger.rawOutputs,
		CreatedAt:  time.Now().UTC(),
	}
	if failure != nil {
		transcript.Failure = failure.Error()
	}
	if transcript.RawOutputs == nil {
		transcript.RawOutputs = []string{}
	}

	data, err := json.Marshal(transcript)
	if err != nil {
		log.Printf("Warning: failed to encode transcript %s: %v", runID, err)
		return
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		log.Printf("Warning: failed to canonicalize transcript %s: %v", runID, err)
		return
	}

	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archive.Put(archiveCtx, storage.TranscriptPath(runID), "application/json", bytes.NewReader(canonical)); err != nil {
		log.Printf("Warning: failed to archive transcript %s: %v", runID, err)
		return
	}
	log.Printf("Archived transcript for run %s", runID)
}

// GetTranscript loads the archived transcript of a run
func (s *DecodeService) GetTranscript(ctx context.Context, runID uuid.UUID) (*Transcript, error) {
	if s.archive == nil {
		return nil, ErrServiceNotConfigured
	}

	rc, err := s.archive.Get(ctx, storage.TranscriptPath(runID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	var transcript Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &transcript, nil
}

// DeleteTranscript removes the archived transcript of a run
func (s *DecodeService) DeleteTranscript(ctx context.Context, runID uuid.UUID) error {
	if s.archive == nil {
		return ErrServiceNotConfigured
	}

	key := storage.TranscriptPath(runID)
	rc, err := s.archive.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTranscriptNotFound
		}
		return fmt.Errorf("failed to load transcript: %w", err)
	}
	rc.Close()

	if err := s.archive.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	log.Printf("Deleted transcript for run %s", runID)
	return nil
}
