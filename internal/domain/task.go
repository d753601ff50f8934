package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskState represents the current lifecycle state of a download task
type TaskState string

const (
	StateQueued      TaskState = "queued"
	StateDownloading TaskState = "downloading"
	StatePaused      TaskState = "paused"
	StateCompleted   TaskState = "completed"
	StateFailed      TaskState = "failed"
)

// ContentKind discriminates movies from episodes
type ContentKind string

const (
	KindMovie   ContentKind = "movie"
	KindEpisode ContentKind = "episode"
)

// ContentRequest is the descriptor supplied by the catalog layer when the
// user requests a download.
type ContentRequest struct {
	Kind        ContentKind       `json:"kind"`
	ContentID   int64             `json:"content_id"`
	ShowID      int64             `json:"show_id,omitempty"`
	Season      int               `json:"season,omitempty"`
	Episode     int               `json:"episode,omitempty"`
	Title       string            `json:"title"`
	PosterURL   string            `json:"poster_url,omitempty"`
	StreamURL   string            `json:"stream_url"`
	Headers     map[string]string `json:"headers,omitempty"`
	SubtitleURL string            `json:"subtitle_url,omitempty"`
	Source      string            `json:"source,omitempty"`
}

// TaskID computes the deterministic task id for the requested content.
// One logical content item maps to exactly one id.
func (r ContentRequest) TaskID() string {
	if r.Kind == KindEpisode {
		return EpisodeTaskID(r.ShowID, r.Season, r.Episode)
	}
	return MovieTaskID(r.ContentID)
}

// MovieTaskID returns the task id for a movie.
func MovieTaskID(id int64) string {
	return fmt.Sprintf("movie:%d", id)
}

// EpisodeTaskID returns the task id for an episode.
func EpisodeTaskID(showID int64, season, episode int) string {
	return fmt.Sprintf("episode:%d:%d:%d", showID, season, episode)
}

// DownloadTask is the unit of work tracked by the orchestrator.
type DownloadTask struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	PosterURL        string            `json:"poster_url,omitempty"`
	Source           string            `json:"source,omitempty"`
	StreamURL        string            `json:"stream_url"`
	Headers          map[string]string `json:"headers,omitempty"`
	HLS              bool              `json:"hls"`
	State            TaskState         `json:"state"`
	Progress         float64           `json:"progress"`
	DownloadedBytes  int64             `json:"downloaded_bytes"`
	TotalBytes       int64             `json:"total_bytes"`
	FileName         string            `json:"file_name,omitempty"`
	SubtitleURL      string            `json:"subtitle_url,omitempty"`
	SubtitleFileName string            `json:"subtitle_file_name,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// NewDownloadTask creates a fresh queued task from a content request.
func NewDownloadTask(req ContentRequest) *DownloadTask {
	return &DownloadTask{
		ID:          req.TaskID(),
		Title:       req.Title,
		PosterURL:   req.PosterURL,
		Source:      req.Source,
		StreamURL:   req.StreamURL,
		Headers:     req.Headers,
		HLS:         IsHLSURL(req.StreamURL),
		State:       StateQueued,
		SubtitleURL: req.SubtitleURL,
		CreatedAt:   time.Now(),
	}
}

// FileStem returns the on-disk base name for the task's output, derived
// from the id. Colons are not portable in file names, so they become
// underscores; the mapping stays one-to-one per task.
func (t *DownloadTask) FileStem() string {
	return strings.ReplaceAll(t.ID, ":", "_")
}

// MarkDownloading transitions the task into the active state.
func (t *DownloadTask) MarkDownloading() {
	t.State = StateDownloading
	t.LastError = ""
}

// MarkCompleted records the final output file and its on-disk size.
func (t *DownloadTask) MarkCompleted(fileName string, size int64) {
	t.State = StateCompleted
	t.FileName = fileName
	t.Progress = 1.0
	t.DownloadedBytes = size
	t.TotalBytes = size
	t.LastError = ""
	now := time.Now()
	t.CompletedAt = &now
}

// MarkFailed records the failure reason.
func (t *DownloadTask) MarkFailed(err error) {
	t.State = StateFailed
	t.LastError = err.Error()
}

// MarkPaused transitions the task into the paused state. Segmented
// downloads carry no resumable state, so their counters reset here and the
// transfer restarts from zero on resume.
func (t *DownloadTask) MarkPaused() {
	t.State = StatePaused
	if t.HLS {
		t.Progress = 0
		t.DownloadedBytes = 0
		t.TotalBytes = 0
	}
}

// ResetForRetry re-queues a paused or failed task.
func (t *DownloadTask) ResetForRetry() {
	t.State = StateQueued
	t.LastError = ""
}

// IsActive reports whether the task occupies a concurrency slot or is
// waiting for one.
func (t *DownloadTask) IsActive() bool {
	return t.State == StateQueued || t.State == StateDownloading
}

// IsTerminal reports whether the task has finished, successfully or not.
func (t *DownloadTask) IsTerminal() bool {
	return t.State == StateCompleted || t.State == StateFailed
}

// Clone returns a deep copy safe to hand outside the orchestrator.
func (t *DownloadTask) Clone() *DownloadTask {
	c := *t
	if t.Headers != nil {
		c.Headers = make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			c.Headers[k] = v
		}
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// IsHLSURL sniffs whether a stream URL points at an HLS manifest rather
// than a progressive file.
func IsHLSURL(rawURL string) bool {
	u := strings.ToLower(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		if strings.Contains(u[i:], "m3u8") {
			return true
		}
		u = u[:i]
	}
	return strings.HasSuffix(u, ".m3u8") || strings.HasSuffix(u, ".m3u")
}
