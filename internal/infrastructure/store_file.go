// Package infrastructure provides the file-backed task store and the
// task-event hub the UI subscribes to.
package infrastructure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/domain"
)

// FileTaskStore persists the task collection as a single JSON snapshot,
// rewritten wholesale on every save. The snapshot lives alongside the
// downloaded files.
type FileTaskStore struct {
	path   string
	logger *zap.Logger
}

// NewFileTaskStore creates a store writing to dir/tasks.json
func NewFileTaskStore(dir string, logger *zap.Logger) *FileTaskStore {
	return &FileTaskStore{
		path:   filepath.Join(dir, "tasks.json"),
		logger: logger,
	}
}

// Load reads the snapshot. A missing or unreadable snapshot is treated as
// no prior tasks, never as a fatal condition.
func (s *FileTaskStore) Load() ([]*domain.DownloadTask, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read task snapshot, starting empty",
				zap.String("path", s.path),
				zap.Error(err))
		}
		return []*domain.DownloadTask{}, nil
	}

	var tasks []*domain.DownloadTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.logger.Warn("Task snapshot is corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err))
		return []*domain.DownloadTask{}, nil
	}
	return tasks, nil
}

// Save rewrites the snapshot atomically via a temp file and rename.
func (s *FileTaskStore) Save(tasks []*domain.DownloadTask) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace task snapshot: %w", err)
	}
	return nil
}
