package swiftybluetooth

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidNotificationPolicy indicates an unsupported overflow mode or buffer.
var ErrInvalidNotificationPolicy = errors.New("invalid notification policy")

type OverflowMode string

const (
	// OverflowDrop discards new notifications when the subscriber buffer is full.
	OverflowDrop OverflowMode = "drop"
	// OverflowBlock makes the publisher wait for the subscriber.
	OverflowBlock OverflowMode = "block"
	// OverflowRing evicts the oldest buffered notification to make room.
	OverflowRing OverflowMode = "ring"
)

// NotificationPolicy controls how a subscriber's channel behaves when the
// consumer falls behind the dispatcher.
type NotificationPolicy struct {
	Buffer int
	Mode   OverflowMode
}

func DefaultNotificationPolicy() NotificationPolicy {
	return NotificationPolicy{Buffer: 16, Mode: OverflowDrop}
}

func validateNotificationPolicy(policy NotificationPolicy) error {
	if policy.Buffer <= 0 {
		return fmt.Errorf("%w: buffer must be > 0", ErrInvalidNotificationPolicy)
	}
	switch policy.Mode {
	case OverflowDrop, OverflowBlock, OverflowRing:
		return nil
	default:
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidNotificationPolicy, policy.Mode)
	}
}

// notificationHub fans broadcast notifications out to subscribers. It is
// deliberately decoupled from request fan-out: a slow subscriber can never
// stall the dispatch loop beyond its own chosen policy.
type notificationHub struct {
	mu          sync.Mutex
	subscribers map[*notificationFeed]struct{}
	closed      bool
}

func newNotificationHub() *notificationHub {
	return &notificationHub{subscribers: map[*notificationFeed]struct{}{}}
}

func (hub *notificationHub) subscribe(policy NotificationPolicy) (<-chan Notification, func(), error) {
	if err := validateNotificationPolicy(policy); err != nil {
		return nil, nil, err
	}
	feed := newNotificationFeed(policy)

	hub.mu.Lock()
	if hub.closed {
		hub.mu.Unlock()
		return nil, nil, ErrCentralClosed
	}
	hub.subscribers[feed] = struct{}{}
	hub.mu.Unlock()

	go feed.run()

	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() {
			hub.mu.Lock()
			delete(hub.subscribers, feed)
			hub.mu.Unlock()
			feed.close()
		})
	}
	return feed.out, cancel, nil
}

func (hub *notificationHub) publish(notification Notification) {
	for feed := range hub.snapshot() {
		feed.enqueue(notification)
	}
}

func (hub *notificationHub) close() {
	hub.mu.Lock()
	if hub.closed {
		hub.mu.Unlock()
		return
	}
	hub.closed = true
	subscribers := hub.subscribers
	hub.subscribers = map[*notificationFeed]struct{}{}
	hub.mu.Unlock()

	for feed := range subscribers {
		feed.close()
	}
}

func (hub *notificationHub) snapshot() map[*notificationFeed]struct{} {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	subscribers := make(map[*notificationFeed]struct{}, len(hub.subscribers))
	for feed := range hub.subscribers {
		subscribers[feed] = struct{}{}
	}
	return subscribers
}
