package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
)

// DefaultFileName is the checkpoint file created inside the output directory
const DefaultFileName = "saved_progress_state.txt"

// Store persists the most recent traversal position
type Store interface {
	// Save replaces the stored position
	Save(pos Position) error
	// Load returns the stored position, or nil when there is none to resume from
	Load() Position
}

// FileStore keeps the position in a small text file
type FileStore struct {
	path   string
	logger logger.Logger
}

// NewFileStore creates a file-backed checkpoint store
func NewFileStore(path string, log logger.Logger) *FileStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &FileStore{
		path:   path,
		logger: log.WithField("checkpoint", path),
	}
}

// Path returns the checkpoint file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the checkpoint. Missing, empty or damaged files yield nil so a
// torn write only costs resumability.
func (s *FileStore) Load() Position {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warn("Failed to read checkpoint, starting fresh")
		}
		return nil
	}

	pos, err := Parse(string(data))
	if err != nil {
		s.logger.WithError(err).Warn("Ignoring malformed checkpoint, starting fresh")
		return nil
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"position": pos.String(),
	})
	return pos
}

// Save writes the position to disk, fully replacing the previous content
func (s *FileStore) Save(pos Position) error {
	if len(pos) == 0 {
		return errs.Persistence("save checkpoint", s.path, fmt.Errorf("empty position"))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errs.Persistence("save checkpoint", s.path, err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return errs.Persistence("save checkpoint", s.path, fmt.Errorf("failed to create temporary checkpoint file: %w", err))
	}

	if _, err := file.Write(pos.Encode()); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Persistence("save checkpoint", s.path, fmt.Errorf("failed to write checkpoint: %w", err))
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Persistence("save checkpoint", s.path, fmt.Errorf("failed to sync checkpoint file: %w", err))
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Persistence("save checkpoint", s.path, fmt.Errorf("failed to close checkpoint file: %w", err))
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errs.Persistence("save checkpoint", s.path, fmt.Errorf("failed to replace checkpoint file: %w", err))
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"position": pos.String(),
	})
	return nil
}

// Clear removes the checkpoint file
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errs.Persistence("clear checkpoint", s.path, err)
	}
	s.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Disabled is the store used when checkpointing is switched off
type Disabled struct{}

// Save does nothing
func (Disabled) Save(Position) error { return nil }

// Load always reports that there is nothing to resume
func (Disabled) Load() Position { return nil }
