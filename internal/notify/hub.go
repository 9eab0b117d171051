package notify

import (
	"log/slog"
	"sync"

	"github.com/dzkmrn/urgency-detection-service/internal/store"
)

// EventNewDetection is the event name pushed to websocket clients.
const EventNewDetection = "new_detection"

// Event is the wire envelope for pushed notifications. Data carries the
// full detection record as persisted.
type Event struct {
	Event string                `json:"event"`
	Data  store.DetectionRecord `json:"data"`
}

// Hub fans detection records out to connected subscribers. Delivery is
// at-most-once per subscriber per record: a full subscriber buffer drops
// the event rather than stalling the publishing pipeline, and a
// subscriber attached after Publish returns misses the event permanently.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	bufferSize  int
	closed      bool
	logger      *slog.Logger

	// Statistics
	published uint64
	dropped   uint64
}

// Subscriber is one receiver of detection events.
type Subscriber struct {
	hub *Hub
	ch  chan store.DetectionRecord
}

// NewHub creates a hub whose subscribers buffer up to bufferSize pending
// events each.
func NewHub(logger *slog.Logger, bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}

	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The caller must Close it when
// done or its buffer leaks.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		hub: h,
		ch:  make(chan store.DetectionRecord, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		return sub
	}

	h.subscribers[sub] = struct{}{}
	return sub
}

// C returns the subscriber's event channel. It is closed on Close or hub
// shutdown.
func (s *Subscriber) C() <-chan store.DetectionRecord {
	return s.ch
}

// Close unsubscribes and releases the channel.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
}

// Publish broadcasts a record to all current subscribers without
// blocking: a subscriber whose buffer is full is skipped. Returns the
// delivered and dropped counts, taken under a single lock so they always
// sum to the subscriber count at publish time. Zero subscribers is a
// successful no-op.
func (h *Hub) Publish(rec store.DetectionRecord) (delivered, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, 0
	}

	h.published++

	for sub := range h.subscribers {
		select {
		case sub.ch <- rec:
			delivered++
		default:
			dropped++
			h.dropped++
			h.logger.Warn("Notification dropped, subscriber buffer full",
				slog.String("record_id", rec.ID),
				slog.String("user_id", rec.UserID),
			)
		}
	}

	return delivered, dropped
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubStats reports hub counters for monitoring endpoints.
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// GetStats returns current hub statistics.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubStats{
		Subscribers: len(h.subscribers),
		Published:   h.published,
		Dropped:     h.dropped,
	}
}

// Close shuts the hub down and closes all subscriber channels. Publish
// becomes a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
}
