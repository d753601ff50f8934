package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/domain"
)

// mockStore implements domain.TaskStore in memory
type mockStore struct {
	mu       sync.Mutex
	tasks    []*domain.DownloadTask
	saveCall int
}

func (m *mockStore) Load() ([]*domain.DownloadTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.DownloadTask, len(m.tasks))
	copy(out, m.tasks)
	return out, nil
}

func (m *mockStore) Save(tasks []*domain.DownloadTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make([]*domain.DownloadTask, len(tasks))
	for i, t := range tasks {
		m.tasks[i] = t.Clone()
	}
	m.saveCall++
	return nil
}

func (m *mockStore) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCall
}

func newTestOrchestrator(t *testing.T, limit int) (*Orchestrator, *mockStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := &mockStore{}
	o := NewOrchestrator(domain.DownloadConfig{
		Dir:              dir,
		ConcurrentLimit:  limit,
		MaxRetries:       1,
		RetryBackoff:     time.Millisecond,
		RequestTimeout:   time.Hour,
		ProgressInterval: time.Millisecond,
	}, store, nil, zap.NewNop())
	require.NoError(t, o.Start())
	t.Cleanup(o.Stop)
	return o, store, dir
}

// blockingServer accepts requests and holds them open until the client goes
// away, keeping transfers pinned in the downloading state.
func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	return server
}

func movieRequest(id int64, streamURL string) domain.ContentRequest {
	return domain.ContentRequest{
		Kind:      domain.KindMovie,
		ContentID: id,
		Title:     fmt.Sprintf("Movie %d", id),
		StreamURL: streamURL,
	}
}

func TestOrchestrator_EnqueueStartsTransfer(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 2)

	task, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))

	require.NoError(t, err)
	assert.Equal(t, "movie:1", task.ID)
	assert.Equal(t, domain.StateDownloading, task.State)
	assert.True(t, o.IsDownloading("movie:1"))
}

func TestOrchestrator_EnqueueIsIdempotent(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 2)

	first, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	second, err := o.Enqueue(movieRequest(1, server.URL+"/other.mp4"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// The original stream URL is kept; the duplicate request is a no-op
	assert.Equal(t, first.StreamURL, second.StreamURL)
	assert.Len(t, o.Tasks(), 1)
}

func TestOrchestrator_EnqueueReplacesFailedTask(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 2)

	failed, err := o.Enqueue(movieRequest(1, "not a url"))
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, failed.State)

	replaced, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	assert.Equal(t, domain.StateDownloading, replaced.State)
	assert.Empty(t, replaced.LastError)
	assert.Len(t, o.Tasks(), 1)
}

func TestOrchestrator_InvalidURLFailsWithoutTransfer(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 2)

	task, err := o.Enqueue(movieRequest(1, "ftp://host/file"))

	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, task.State)
	assert.NotEmpty(t, task.LastError)
	assert.Equal(t, 0, o.ActiveCount())
}

func TestOrchestrator_EmptyURLRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 2)

	_, err := o.Enqueue(movieRequest(1, ""))
	assert.Error(t, err)
}

func TestOrchestrator_ConcurrencyBound(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 2)

	for i := int64(1); i <= 3; i++ {
		_, err := o.Enqueue(movieRequest(i, server.URL+fmt.Sprintf("/m%d.mp4", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, o.ActiveCount())
	assert.Equal(t, domain.StateDownloading, o.Task("movie:1").State)
	assert.Equal(t, domain.StateDownloading, o.Task("movie:2").State)
	assert.Equal(t, domain.StateQueued, o.Task("movie:3").State)
}

func TestOrchestrator_FIFOPromotion(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 1)

	for i := int64(1); i <= 3; i++ {
		_, err := o.Enqueue(movieRequest(i, server.URL+fmt.Sprintf("/m%d.mp4", i)))
		require.NoError(t, err)
	}
	require.Equal(t, domain.StateDownloading, o.Task("movie:1").State)

	require.NoError(t, o.Cancel("movie:1"))

	// The oldest queued task takes the freed slot
	assert.Nil(t, o.Task("movie:1"))
	assert.Equal(t, domain.StateDownloading, o.Task("movie:2").State)
	assert.Equal(t, domain.StateQueued, o.Task("movie:3").State)
}

func TestOrchestrator_PauseAndResume(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	require.NoError(t, o.Pause("movie:1"))
	assert.Equal(t, domain.StatePaused, o.Task("movie:1").State)

	require.NoError(t, o.Resume("movie:1"))
	assert.Equal(t, domain.StateDownloading, o.Task("movie:1").State)
}

func TestOrchestrator_PauseRequiresDownloading(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/m1.mp4"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(2, server.URL+"/m2.mp4"))
	require.NoError(t, err)

	// movie:2 is queued, not downloading
	err = o.Pause("movie:2")
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.ErrorIs(t, o.Pause("movie:99"), ErrTaskNotFound)
}

func TestOrchestrator_ResumeRequiresPausedOrFailed(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	assert.ErrorIs(t, o.Resume("movie:1"), ErrInvalidState)
	assert.ErrorIs(t, o.Resume("movie:99"), ErrTaskNotFound)
}

func TestOrchestrator_ResumeRetriesFailedTask(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 1)

	failed, err := o.Enqueue(movieRequest(1, "not a url"))
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, failed.State)

	// The stored URL is still bad, but the state machine re-queues it and
	// the retried transfer fails on its own
	require.NoError(t, o.Resume("movie:1"))

	require.Eventually(t, func() bool {
		task := o.Task("movie:1")
		return task != nil && task.State == domain.StateFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOrchestrator_CancelDeletesPartialData(t *testing.T) {
	server := blockingServer(t)
	o, _, dir := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	partial := filepath.Join(dir, "movie_1.part")
	require.NoError(t, os.WriteFile(partial, []byte("partial"), 0o644))

	require.NoError(t, o.Cancel("movie:1"))

	assert.Nil(t, o.Task("movie:1"))
	assert.NoFileExists(t, partial)
}

func TestOrchestrator_CancelRejectsTerminalStates(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 1)

	failed, err := o.Enqueue(movieRequest(1, "not a url"))
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, failed.State)

	assert.ErrorIs(t, o.Cancel("movie:1"), ErrInvalidState)
	assert.ErrorIs(t, o.Cancel("movie:99"), ErrTaskNotFound)
}

func TestOrchestrator_RemoveDeletesFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("movie bytes"))
	}))
	defer server.Close()

	o, _, dir := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task := o.Task("movie:1")
		return task != nil && task.State == domain.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	outPath := filepath.Join(dir, "movie_1.mp4")
	require.FileExists(t, outPath)

	require.NoError(t, o.Remove("movie:1", true))
	assert.Nil(t, o.Task("movie:1"))
	assert.NoFileExists(t, outPath)
}

func TestOrchestrator_DirectDownloadCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("movie bytes"))
	}))
	defer server.Close()

	o, _, dir := newTestOrchestrator(t, 2)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task := o.Task("movie:1")
		return task != nil && task.State == domain.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	task := o.Task("movie:1")
	assert.Equal(t, "movie_1.mp4", task.FileName)
	assert.Equal(t, 1.0, task.Progress)
	assert.True(t, o.IsDownloaded("movie:1"))
	assert.Equal(t, filepath.Join(dir, "movie_1.mp4"), o.LocalFilePath("movie:1"))
	assert.Equal(t, int64(len("movie bytes")), o.StorageUsed())
}

func TestOrchestrator_HLSDownloadCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:9.0,\nseg0.ts\n#EXTINF:9.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
		case "/seg0.ts":
			w.Write([]byte("AAA"))
		case "/seg1.ts":
			w.Write([]byte("BBB"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	o, _, dir := newTestOrchestrator(t, 2)

	task, err := o.Enqueue(movieRequest(1, server.URL+"/index.m3u8"))
	require.NoError(t, err)
	assert.True(t, task.HLS)

	require.Eventually(t, func() bool {
		task := o.Task("movie:1")
		return task != nil && task.State == domain.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	task = o.Task("movie:1")
	assert.Equal(t, "movie_1.ts", task.FileName)

	data, err := os.ReadFile(filepath.Join(dir, "movie_1.ts"))
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))
}

func TestOrchestrator_FailedTransferMarksTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	o, _, _ := newTestOrchestrator(t, 2)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/gone.mp4"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task := o.Task("movie:1")
		return task != nil && task.State == domain.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, o.Task("movie:1").LastError)
}

func TestOrchestrator_StartupRecoveryRequeuesDownloading(t *testing.T) {
	dir := t.TempDir()
	interrupted := domain.NewDownloadTask(movieRequest(1, "https://cdn.example.com/movie.mp4"))
	interrupted.State = domain.StateDownloading
	store := &mockStore{tasks: []*domain.DownloadTask{interrupted}}

	// Zero slots keep the recovered task visible in the queued state
	o := NewOrchestrator(domain.DownloadConfig{
		Dir:             dir,
		ConcurrentLimit: 0,
		RetryBackoff:    time.Millisecond,
		RequestTimeout:  time.Second,
	}, store, nil, zap.NewNop())
	require.NoError(t, o.Start())
	defer o.Stop()

	task := o.Task("movie:1")
	require.NotNil(t, task)
	assert.Equal(t, domain.StateQueued, task.State)
	assert.Greater(t, store.saves(), 0)
}

func TestOrchestrator_Stats(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/m1.mp4"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(2, server.URL+"/m2.mp4"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(3, "not a url"))
	require.NoError(t, err)

	stats := o.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Downloading)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Failed)
}

func TestOrchestrator_PauseAllAndResumeAll(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 2)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/m1.mp4"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(2, server.URL+"/m2.mp4"))
	require.NoError(t, err)

	o.PauseAll()
	stats := o.Stats()
	assert.Equal(t, 2, stats.Paused)
	assert.Equal(t, 0, stats.Downloading)

	o.ResumeAll()
	stats = o.Stats()
	assert.Equal(t, 2, stats.Downloading)
	assert.Equal(t, 0, stats.Paused)
}

func TestOrchestrator_RetryAllFailed(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 0)

	_, err := o.Enqueue(movieRequest(1, "not a url"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(2, "also bad"))
	require.NoError(t, err)

	o.RetryAllFailed()

	stats := o.Stats()
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 0, stats.Failed)
}

func TestOrchestrator_CancelAllActive(t *testing.T) {
	server := blockingServer(t)
	o, _, _ := newTestOrchestrator(t, 1)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/m1.mp4"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(2, server.URL+"/m2.mp4"))
	require.NoError(t, err)
	_, err = o.Enqueue(movieRequest(3, "not a url"))
	require.NoError(t, err)

	o.CancelAllActive()

	stats := o.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Failed)
}

func TestOrchestrator_DeleteAllCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("bytes"))
	}))
	defer server.Close()

	o, _, dir := newTestOrchestrator(t, 2)

	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task := o.Task("movie:1")
		return task != nil && task.State == domain.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	o.DeleteAllCompleted()

	assert.Empty(t, o.Tasks())
	assert.NoFileExists(t, filepath.Join(dir, "movie_1.mp4"))
}

func TestOrchestrator_PersistsOnMutation(t *testing.T) {
	server := blockingServer(t)
	o, store, _ := newTestOrchestrator(t, 1)

	before := store.saves()
	_, err := o.Enqueue(movieRequest(1, server.URL+"/movie.mp4"))
	require.NoError(t, err)

	assert.Greater(t, store.saves(), before)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "movie:1", loaded[0].ID)
}
