package swiftybluetooth

import "sync"

// notificationFeed decouples one subscriber from the hub. The hub enqueues
// into in according to the policy and a dedicated goroutine moves
// notifications to out, so publishing never blocks on consumer code beyond
// what the policy allows.
//
// The hub publishes from the central's single dispatch goroutine, which
// makes enqueue the only writer to in; the overflow handling below relies
// on that.
type notificationFeed struct {
	out    chan Notification
	in     chan Notification
	done   chan struct{}
	once   sync.Once
	policy NotificationPolicy
}

func newNotificationFeed(policy NotificationPolicy) *notificationFeed {
	return &notificationFeed{
		out:    make(chan Notification, policy.Buffer),
		in:     make(chan Notification, policy.Buffer),
		done:   make(chan struct{}),
		policy: policy,
	}
}

func (feed *notificationFeed) run() {
	defer close(feed.out)
	for {
		select {
		case <-feed.done:
			feed.flush()
			return
		case notification := <-feed.in:
			if !feed.deliver(notification) {
				return
			}
		}
	}
}

// deliver blocks until the subscriber takes notification or the feed is
// cancelled.
func (feed *notificationFeed) deliver(notification Notification) bool {
	select {
	case feed.out <- notification:
		return true
	case <-feed.done:
		select {
		case feed.out <- notification:
		default:
		}
		feed.flush()
		return false
	}
}

// flush forwards queued notifications without blocking, so a cancelled
// subscriber still sees what was published before the cancel.
func (feed *notificationFeed) flush() {
	for {
		select {
		case notification := <-feed.in:
			select {
			case feed.out <- notification:
			default:
			}
		default:
			return
		}
	}
}

func (feed *notificationFeed) close() {
	feed.once.Do(func() {
		close(feed.done)
	})
}

// enqueue applies the subscriber's overflow policy.
func (feed *notificationFeed) enqueue(notification Notification) {
	switch feed.policy.Mode {
	case OverflowBlock:
		select {
		case feed.in <- notification:
		case <-feed.done:
		}
	case OverflowRing:
		select {
		case feed.in <- notification:
			return
		case <-feed.done:
			return
		default:
		}
		// Full: evict the oldest. With a single writer the freed slot
		// cannot be taken back before the send below.
		select {
		case <-feed.in:
		default:
		}
		select {
		case feed.in <- notification:
		case <-feed.done:
		}
	default:
		select {
		case feed.in <- notification:
		case <-feed.done:
		default:
		}
	}
}
