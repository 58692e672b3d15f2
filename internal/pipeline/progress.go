package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/tuanvm/diachimoi/internal/models"
)

// ErrCheckpointCorrupt indicates the checkpoint file exists but cannot be
// parsed. Surfaced immediately rather than silently starting over.
var ErrCheckpointCorrupt = errors.New("checkpoint file is corrupt")

// ProgressStore persists partial results so an interrupted run can resume
// from the last processed record. The checkpoint is the same JSON array
// shape as the final output artifact.
type ProgressStore struct {
	path   string
	logger arbor.ILogger
}

// NewProgressStore creates a store backed by the given checkpoint path
func NewProgressStore(path string, logger arbor.ILogger) *ProgressStore {
	return &ProgressStore{path: path, logger: logger}
}

// Path returns the checkpoint file location
func (s *ProgressStore) Path() string {
	return s.path
}

// Persist overwrites the checkpoint with the full accumulated result set.
// Best-effort relative to crash safety: a crash between checkpoints loses
// only the unpersisted tail.
func (s *ProgressStore) Persist(results []models.ConversionResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", s.path, err)
	}
	s.logger.Debug().
		Str("path", s.path).
		Int("records", len(results)).
		Msg("Checkpoint written")
	return nil
}

// Load reads the persisted results. An absent file is not an error and
// returns nil; an unparsable file is ErrCheckpointCorrupt.
func (s *ProgressStore) Load() ([]models.ConversionResult, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}

	var results []models.ConversionResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCheckpointCorrupt, s.path, err)
	}
	return results, nil
}

// LastProcessedID returns the resume cursor: the pref_old_id of the
// checkpoint's last element. The second return is false when no checkpoint
// exists or it is empty - that is "no cursor", not an error.
func (s *ProgressStore) LastProcessedID() (int, bool, error) {
	results, err := s.Load()
	if err != nil {
		return 0, false, err
	}
	if len(results) == 0 {
		return 0, false, nil
	}
	return results[len(results)-1].PrefOldID, true, nil
}
