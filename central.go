package swiftybluetooth

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ivan-Chuchman/SwiftyBluetooth/internal/requests"
)

const (
	opConnect    = "connect peripheral"
	opDisconnect = "disconnect peripheral"
)

// Central is the single owner of all request coordination state: the
// readiness gate, the one scan slot, and the per-peripheral connect and
// disconnect entries. Public operations are non-blocking; outcomes arrive
// on the supplied callbacks. All manager notifications are consumed by one
// dispatch goroutine, so their effects on shared state are linearized.
type Central struct {
	manager     Manager
	logger      *slog.Logger
	gate        *stateGate
	scan        *scanner
	connects    *requests.Registry[uuid.UUID]
	disconnects *requests.Registry[uuid.UUID]
	hub         *notificationHub

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewCentral wires a Central to manager and starts its dispatch loop. The
// caller remains responsible for shutting the manager down; closing the
// manager ends the dispatch loop.
func NewCentral(manager Manager, options Options) (*Central, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	options = options.withDefaults()

	central := &Central{
		manager:     manager,
		logger:      options.Logger,
		gate:        newStateGate(),
		scan:        newScanner(manager),
		connects:    requests.NewRegistry[uuid.UUID](),
		disconnects: requests.NewRegistry[uuid.UUID](),
		hub:         newNotificationHub(),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	go central.dispatch()
	return central, nil
}

// Close fails every pending request and the active scan with
// ErrCentralClosed and closes the notification hub. Requests still parked
// at the readiness gate fail the same way through their closure re-check.
// Safe to call more than once.
func (central *Central) Close() error {
	central.closeOnce.Do(func() {
		close(central.closed)
		for _, callback := range central.gate.abort() {
			callback(central.gate.current())
		}
		central.scan.stop(ErrCentralClosed)
		for _, waiter := range central.connects.Drain() {
			waiter(ErrCentralClosed)
		}
		for _, waiter := range central.disconnects.Drain() {
			waiter(ErrCentralClosed)
		}
		central.hub.close()
	})
	return nil
}

// State returns the last readiness state reported by the manager.
func (central *Central) State() ManagerState {
	return central.gate.current()
}

// ObserveState invokes callback with the resolved readiness state:
// immediately when the state is already terminal, otherwise once the
// manager leaves its transitional phase. Closing the central invokes
// callbacks still parked on a transitional state with the state as it was.
func (central *Central) ObserveState(callback func(ManagerState)) {
	central.gate.observe(callback)
}

// EnsureReady invokes callback with nil once the manager is powered on,
// with the state-specific error when it resolved to anything else, or with
// ErrCentralClosed when the central closed first.
func (central *Central) EnsureReady(callback func(error)) {
	central.ensureOpen(callback)
}

// ensureOpen parks callback on the readiness gate and re-checks for
// closure when it fires: a central closed before the state resolved fails
// the callback with ErrCentralClosed instead of acting on a dead central.
func (central *Central) ensureOpen(callback func(error)) {
	central.gate.observe(func(state ManagerState) {
		if central.isClosed() {
			callback(ErrCentralClosed)
			return
		}
		callback(readyError(state))
	})
}

// Subscribe registers a consumer of broadcast notifications (readiness
// changes, restore-state payloads). The returned cancel func is idempotent.
func (central *Central) Subscribe(policy NotificationPolicy) (<-chan Notification, func(), error) {
	return central.hub.subscribe(policy)
}

// Scan starts a discovery operation and streams its events to callback. A
// scan already active is stopped first, so at most one caller ever
// receives live results. The scan ends at the deadline, on StopScan, or
// when the manager state degrades.
func (central *Central) Scan(timeout time.Duration, serviceUUIDs []uuid.UUID, callback func(ScanEvent)) {
	if central.isClosed() {
		callback(ScanEvent{Type: ScanStopped, Err: ErrCentralClosed})
		return
	}
	central.ensureOpen(func(err error) {
		if err != nil {
			callback(ScanEvent{Type: ScanStopped, Err: err})
			return
		}
		central.scan.start(timeout, serviceUUIDs, callback)
	})
}

// StopScan ends the active scan, delivering a stopped event with no error.
// Harmless when no scan is active.
func (central *Central) StopScan() {
	central.scan.stop(nil)
}

// Connect asks the manager to connect target and invokes callback with the
// outcome. Concurrent calls for the same target share one attempt and one
// deadline; every callback is invoked exactly once with the same outcome.
func (central *Central) Connect(target uuid.UUID, timeout time.Duration, callback func(error)) {
	if central.isClosed() {
		callback(ErrCentralClosed)
		return
	}
	central.ensureOpen(func(err error) {
		if err != nil {
			callback(err)
			return
		}
		if central.manager.ConnectionState(target) == ConnectionConnected {
			callback(nil)
			return
		}
		created, token := central.connects.Join(target, callback)
		if !created {
			return
		}
		central.manager.Connect(target)
		central.armDeadline(central.connects, target, token, timeout, opConnect)
	})
}

// Disconnect asks the manager to tear down the connection to target and
// invokes callback with the outcome. Join, deduplication and deadline
// semantics mirror Connect.
func (central *Central) Disconnect(target uuid.UUID, timeout time.Duration, callback func(error)) {
	if central.isClosed() {
		callback(ErrCentralClosed)
		return
	}
	central.ensureOpen(func(err error) {
		if err != nil {
			callback(err)
			return
		}
		switch central.manager.ConnectionState(target) {
		case ConnectionDisconnected, ConnectionDisconnecting:
			callback(nil)
			return
		}
		created, token := central.disconnects.Join(target, callback)
		if !created {
			return
		}
		central.manager.CancelConnection(target)
		central.armDeadline(central.disconnects, target, token, timeout, opDisconnect)
	})
}

// armDeadline starts the one-shot deadline for a freshly created entry.
// The timer captures only the key and token; firing against an entry that
// already resolved, or a successor entry for the same key, is a no-op.
func (central *Central) armDeadline(registry *requests.Registry[uuid.UUID], target uuid.UUID, token uint64, timeout time.Duration, operation string) {
	timer := time.AfterFunc(timeout, func() {
		waiters := registry.TakeIfToken(target, token)
		if len(waiters) == 0 {
			return
		}
		central.logger.Debug("request deadline elapsed",
			"operation", operation, "peripheral", target, "waiters", len(waiters))
		err := &TimeoutError{Operation: operation}
		for _, waiter := range waiters {
			waiter(err)
		}
	})
	if !registry.Arm(target, token, timer) {
		timer.Stop()
	}
}

func (central *Central) isClosed() bool {
	select {
	case <-central.closed:
		return true
	default:
		return false
	}
}

// Done is closed once the dispatch loop has drained the manager's event
// channel.
func (central *Central) Done() <-chan struct{} {
	return central.done
}

func (central *Central) dispatch() {
	defer close(central.done)
	for event := range central.manager.Events() {
		central.handleEvent(event)
	}
}

// handleEvent routes one manager notification. Notifications with no
// matching entry are dropped: the request may already have resolved
// through its deadline, or was never made here.
func (central *Central) handleEvent(event ManagerEvent) {
	switch event.Type {
	case EventStateChanged:
		central.handleStateChanged(event.State)
	case EventConnected:
		central.resolve(central.connects, event.Target, nil)
	case EventFailedToConnect:
		central.resolve(central.connects, event.Target, connectFailure(event.Err))
	case EventDisconnected:
		central.resolve(central.disconnects, event.Target, disconnectFailure(event.Err))
	case EventDiscovered:
		central.scan.discovered(event.Target, event.Advertisement, event.RSSI)
	case EventWillRestoreState:
		central.hub.publish(Notification{Type: NotificationWillRestoreState, Restored: event.Restored})
	default:
		central.logger.Debug("ignoring unknown manager event", "type", event.Type)
	}
}

func (central *Central) handleStateChanged(state ManagerState) {
	central.logger.Debug("manager state changed", "state", state)
	for _, callback := range central.gate.setState(state) {
		callback(state)
	}
	central.hub.publish(Notification{Type: NotificationStateChanged, State: state})

	// Any state but powered-on invalidates an active scan. In-flight
	// connect and disconnect requests are left to their own deadlines.
	if state != StatePoweredOn {
		central.scan.stop(&ScanTerminatedError{State: state})
	}
}

// resolve removes the entry for target and fans outcome out to every
// waiter. The entry leaves the registry before the first waiter runs, so a
// caller joining mid-fan-out starts a fresh request instead of attaching
// to a disappearing one.
func (central *Central) resolve(registry *requests.Registry[uuid.UUID], target uuid.UUID, outcome error) {
	waiters := registry.Take(target)
	if waiters == nil {
		central.logger.Debug("dropping notification with no pending request", "peripheral", target)
		return
	}
	for _, waiter := range waiters {
		waiter(outcome)
	}
}

func connectFailure(err error) error {
	if err == nil {
		return ErrPeripheralFailedToConnect
	}
	return &OperationError{Operation: opConnect, Underlying: err}
}

func disconnectFailure(err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: opDisconnect, Underlying: err}
}
