package infrastructure

import (
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/domain"
)

// TaskEvent is one task-list change published to subscribers: a full
// snapshot of all tasks plus the active-count badge value.
type TaskEvent struct {
	Tasks       []*domain.DownloadTask `json:"tasks"`
	ActiveCount int                    `json:"active_count"`
}

// Notifier fans task events out to subscribers (the UI's notification
// channel). Publishing never blocks: a subscriber that falls behind misses
// intermediate snapshots and catches up on the next one.
type Notifier struct {
	logger      *zap.Logger
	mu          sync.Mutex
	subscribers map[int]chan TaskEvent
	nextID      int
}

// NewNotifier creates a new task-event hub
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		logger:      logger,
		subscribers: make(map[int]chan TaskEvent),
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription.
func (n *Notifier) Subscribe() (<-chan TaskEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan TaskEvent, 16)
	n.subscribers[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (n *Notifier) Publish(event TaskEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			n.logger.Debug("Dropping task event for slow subscriber", zap.Int("subscriber", id))
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}
