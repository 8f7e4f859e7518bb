package stream

import (
	"context"
	"sync"

	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

const defaultBuffer = 16

// Hub is an in-process NotificationBroker. Slow subscribers lose
// notifications rather than block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[types.UserID]map[*subscriber]struct{}
	buffer int
}

var _ interfaces.NotificationBroker = (*Hub)(nil)

type subscriber struct {
	ch   chan *model.Notification
	once sync.Once
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[types.UserID]map[*subscriber]struct{}),
		buffer: defaultBuffer,
	}
}

// Publish delivers n to every current subscriber of its recipient
func (h *Hub) Publish(ctx context.Context, n *model.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[n.RecipientID] {
		select {
		case s.ch <- n:
		default:
			logging.From(ctx).Warn("notification dropped for slow subscriber",
				"recipient_id", n.RecipientID, "notification_id", n.ID)
		}
	}
	return nil
}

// Subscribe registers a subscriber for userID. The channel is closed when ctx
// is done or cancel is called.
func (h *Hub) Subscribe(ctx context.Context, userID types.UserID) (<-chan *model.Notification, func(), error) {
	s := &subscriber{ch: make(chan *model.Notification, h.buffer)}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][s] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], s)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(s.ch)
			h.mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return s.ch, cancel, nil
}

// Subscribers returns the number of live subscribers of userID
func (h *Hub) Subscribers(userID types.UserID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
