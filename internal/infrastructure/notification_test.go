package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/domain"
)

func TestNotifier_PublishReachesSubscribers(t *testing.T) {
	notifier := NewNotifier(zap.NewNop())

	ch, cancel := notifier.Subscribe()
	defer cancel()

	task := domain.NewDownloadTask(domain.ContentRequest{Kind: domain.KindMovie, ContentID: 1, StreamURL: "https://x/a.mp4"})
	notifier.Publish(TaskEvent{Tasks: []*domain.DownloadTask{task}, ActiveCount: 1})

	select {
	case event := <-ch:
		require.Len(t, event.Tasks, 1)
		assert.Equal(t, "movie:1", event.Tasks[0].ID)
		assert.Equal(t, 1, event.ActiveCount)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestNotifier_CancelRemovesSubscription(t *testing.T) {
	notifier := NewNotifier(zap.NewNop())

	_, cancel := notifier.Subscribe()
	assert.Equal(t, 1, notifier.SubscriberCount())

	cancel()
	assert.Equal(t, 0, notifier.SubscriberCount())

	// Cancelling twice is harmless
	cancel()
	assert.Equal(t, 0, notifier.SubscriberCount())
}

func TestNotifier_SlowSubscriberDoesNotBlock(t *testing.T) {
	notifier := NewNotifier(zap.NewNop())

	_, cancel := notifier.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// More events than the subscriber buffer holds
		for i := 0; i < 100; i++ {
			notifier.Publish(TaskEvent{ActiveCount: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
