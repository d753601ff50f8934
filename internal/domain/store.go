package domain

// TaskStore defines the interface for task persistence. The orchestrator
// owns the in-memory task collection; the store is a write-through mirror
// read once at startup.
type TaskStore interface {
	// Load reads the persisted snapshot. A missing snapshot yields an
	// empty list, not an error.
	Load() ([]*DownloadTask, error)

	// Save rewrites the whole snapshot atomically.
	Save(tasks []*DownloadTask) error
}

// TaskStats summarizes the task collection by state
type TaskStats struct {
	Total       int `json:"total"`
	Queued      int `json:"queued"`
	Downloading int `json:"downloading"`
	Paused      int `json:"paused"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}
