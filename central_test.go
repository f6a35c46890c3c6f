package swiftybluetooth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeManager scripts the hardware side: tests issue notifications through
// emit and inspect which commands the central sent.
type fakeManager struct {
	mu       sync.Mutex
	events   chan ManagerEvent
	states   map[uuid.UUID]ConnectionState
	scans    int
	stops    int
	connects map[uuid.UUID]int
	cancels  map[uuid.UUID]int
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		events:   make(chan ManagerEvent, 64),
		states:   map[uuid.UUID]ConnectionState{},
		connects: map[uuid.UUID]int{},
		cancels:  map[uuid.UUID]int{},
	}
}

func (fake *fakeManager) StartScan([]uuid.UUID) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.scans++
}

func (fake *fakeManager) StopScan() {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.stops++
}

func (fake *fakeManager) Connect(target uuid.UUID) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.connects[target]++
}

func (fake *fakeManager) CancelConnection(target uuid.UUID) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.cancels[target]++
}

func (fake *fakeManager) ConnectionState(target uuid.UUID) ConnectionState {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.states[target]
}

func (fake *fakeManager) Events() <-chan ManagerEvent {
	return fake.events
}

func (fake *fakeManager) emit(event ManagerEvent) {
	fake.events <- event
}

func (fake *fakeManager) setState(target uuid.UUID, state ConnectionState) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.states[target] = state
}

func (fake *fakeManager) scanCount() int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.scans
}

func (fake *fakeManager) connectCount(target uuid.UUID) int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.connects[target]
}

func (fake *fakeManager) cancelCount(target uuid.UUID) int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.cancels[target]
}

func newTestCentral(t *testing.T) (*Central, *fakeManager) {
	t.Helper()
	fake := newFakeManager()
	central, err := NewCentral(fake, DefaultOptions())
	if err != nil {
		t.Fatalf("NewCentral failed: %v", err)
	}
	t.Cleanup(func() {
		central.Close()
		close(fake.events)
	})
	return central, fake
}

// resolveState drives the gate to a terminal state and waits until the
// dispatcher has applied it.
func resolveState(t *testing.T, central *Central, fake *fakeManager, state ManagerState) {
	t.Helper()
	fake.emit(StateChangedEvent(state))

	resolved := make(chan ManagerState, 1)
	central.ObserveState(func(state ManagerState) {
		resolved <- state
	})
	select {
	case got := <-resolved:
		if got != state {
			t.Fatalf("state resolved to %s, expected %s", got, state)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state resolution")
	}
}

// barrier waits until every notification emitted before it has been routed
// by the dispatch loop, using a restore-state passthrough as the marker.
func barrier(t *testing.T, central *Central, fake *fakeManager) {
	t.Helper()
	marker := uuid.New()
	notifications, cancel, err := central.Subscribe(NotificationPolicy{Buffer: 64, Mode: OverflowBlock})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	fake.emit(WillRestoreStateEvent(RestoredState{Peripherals: []uuid.UUID{marker}}))
	deadline := time.After(time.Second)
	for {
		select {
		case notification := <-notifications:
			if notification.Type == NotificationWillRestoreState &&
				len(notification.Restored.Peripherals) == 1 &&
				notification.Restored.Peripherals[0] == marker {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for dispatch barrier")
		}
	}
}

func awaitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
		return nil
	}
}

func TestConnectDeduplicatesConcurrentRequests(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()

	first := make(chan error, 1)
	second := make(chan error, 1)
	central.Connect(target, time.Second, func(err error) { first <- err })
	central.Connect(target, time.Second, func(err error) { second <- err })

	if count := fake.connectCount(target); count != 1 {
		t.Fatalf("expected exactly one connect command, got %d", count)
	}

	fake.emit(ConnectedEvent(target))
	if err := awaitErr(t, first); err != nil {
		t.Fatalf("first waiter got %v", err)
	}
	if err := awaitErr(t, second); err != nil {
		t.Fatalf("second waiter got %v", err)
	}
}

func TestConnectWaitersResolveInRegistrationOrder(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		index := i
		central.Connect(target, time.Second, func(error) { order <- index })
	}

	fake.emit(ConnectedEvent(target))
	for expected := 0; expected < 3; expected++ {
		select {
		case index := <-order:
			if index != expected {
				t.Fatalf("waiter %d resolved out of order (expected %d)", index, expected)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for waiter %d", expected)
		}
	}
}

func TestConnectTimeoutThenSpuriousNotification(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()

	outcome := make(chan error, 2)
	central.Connect(target, 30*time.Millisecond, func(err error) { outcome <- err })

	err := awaitErr(t, outcome)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) || timeout.Operation != "connect peripheral" {
		t.Fatalf("expected connect peripheral timeout, got %v", err)
	}

	// A late success for the vanished entry is dropped, not re-delivered.
	fake.emit(ConnectedEvent(target))
	barrier(t, central, fake)
	if len(outcome) != 0 {
		t.Fatal("spurious notification re-resolved a timed-out request")
	}
}

func TestConnectDeadlineAfterResolutionIsNoOp(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()

	outcome := make(chan error, 2)
	central.Connect(target, 50*time.Millisecond, func(err error) { outcome <- err })

	fake.emit(ConnectedEvent(target))
	if err := awaitErr(t, outcome); err != nil {
		t.Fatalf("expected success before deadline, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if len(outcome) != 0 {
		t.Fatal("deadline fired against an already-resolved request")
	}
}

func TestConnectAlreadyConnectedResolvesImmediately(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()
	fake.setState(target, ConnectionConnected)

	outcome := make(chan error, 1)
	central.Connect(target, time.Second, func(err error) { outcome <- err })

	if err := awaitErr(t, outcome); err != nil {
		t.Fatalf("expected nil for connected peripheral, got %v", err)
	}
	if count := fake.connectCount(target); count != 0 {
		t.Fatalf("no connect command expected, got %d", count)
	}
}

func TestConnectGateFailureIssuesNoCommand(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOff)
	target := uuid.New()

	outcome := make(chan error, 1)
	central.Connect(target, time.Second, func(err error) { outcome <- err })

	if err := awaitErr(t, outcome); !errors.Is(err, ErrBluetoothPoweredOff) {
		t.Fatalf("expected ErrBluetoothPoweredOff, got %v", err)
	}
	if count := fake.connectCount(target); count != 0 {
		t.Fatalf("no connect command expected, got %d", count)
	}
}

func TestConnectFailureWrapsUnderlyingError(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()
	underlying := errors.New("le-connection-abort-by-local")

	outcome := make(chan error, 1)
	central.Connect(target, time.Second, func(err error) { outcome <- err })
	fake.emit(FailedToConnectEvent(target, underlying))

	err := awaitErr(t, outcome)
	if !errors.Is(err, underlying) {
		t.Fatalf("expected wrapped underlying error, got %v", err)
	}
	var operation *OperationError
	if !errors.As(err, &operation) || operation.Operation != "connect peripheral" {
		t.Fatalf("expected connect peripheral operation error, got %v", err)
	}
}

func TestConnectFailureWithoutReason(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()

	outcome := make(chan error, 1)
	central.Connect(target, time.Second, func(err error) { outcome <- err })
	fake.emit(FailedToConnectEvent(target, nil))

	if err := awaitErr(t, outcome); !errors.Is(err, ErrPeripheralFailedToConnect) {
		t.Fatalf("expected ErrPeripheralFailedToConnect, got %v", err)
	}
}

func TestDisconnectJoinAndResolve(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()
	fake.setState(target, ConnectionConnected)

	first := make(chan error, 1)
	second := make(chan error, 1)
	central.Disconnect(target, time.Second, func(err error) { first <- err })
	central.Disconnect(target, time.Second, func(err error) { second <- err })

	if count := fake.cancelCount(target); count != 1 {
		t.Fatalf("expected exactly one cancel command, got %d", count)
	}

	fake.emit(DisconnectedEvent(target, nil))
	if err := awaitErr(t, first); err != nil {
		t.Fatalf("first waiter got %v", err)
	}
	if err := awaitErr(t, second); err != nil {
		t.Fatalf("second waiter got %v", err)
	}
}

func TestDisconnectAlreadySatisfied(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)

	for _, state := range []ConnectionState{ConnectionDisconnected, ConnectionDisconnecting} {
		target := uuid.New()
		fake.setState(target, state)

		outcome := make(chan error, 1)
		central.Disconnect(target, time.Second, func(err error) { outcome <- err })

		if err := awaitErr(t, outcome); err != nil {
			t.Fatalf("state %s: expected nil, got %v", state, err)
		}
		if count := fake.cancelCount(target); count != 0 {
			t.Fatalf("state %s: no cancel command expected, got %d", state, count)
		}
	}
}

func TestDisconnectTimeoutNamesOperation(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()
	fake.setState(target, ConnectionConnected)

	outcome := make(chan error, 1)
	central.Disconnect(target, 30*time.Millisecond, func(err error) { outcome <- err })

	err := awaitErr(t, outcome)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) || timeout.Operation != "disconnect peripheral" {
		t.Fatalf("expected disconnect peripheral timeout, got %v", err)
	}
}

func TestDisconnectFailureWrapsUnderlyingError(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()
	fake.setState(target, ConnectionConnected)
	underlying := errors.New("connection timed out")

	outcome := make(chan error, 1)
	central.Disconnect(target, time.Second, func(err error) { outcome <- err })
	fake.emit(DisconnectedEvent(target, underlying))

	err := awaitErr(t, outcome)
	if !errors.Is(err, underlying) {
		t.Fatalf("expected wrapped underlying error, got %v", err)
	}
}

func TestReadinessResolutionDrainsQueuedCallbacksOnce(t *testing.T) {
	central, fake := newTestCentral(t)

	outcomes := make(chan error, 3)
	for i := 0; i < 3; i++ {
		central.EnsureReady(func(err error) { outcomes <- err })
	}

	fake.emit(StateChangedEvent(StatePoweredOn))
	for i := 0; i < 3; i++ {
		if err := awaitErr(t, outcomes); err != nil {
			t.Fatalf("queued callback %d got %v", i, err)
		}
	}

	barrier(t, central, fake)
	if len(outcomes) != 0 {
		t.Fatal("a queued callback was invoked more than once")
	}
}

func TestStateChangeIsBroadcast(t *testing.T) {
	central, fake := newTestCentral(t)

	notifications, cancel, err := central.Subscribe(DefaultNotificationPolicy())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	fake.emit(StateChangedEvent(StatePoweredOff))
	select {
	case notification := <-notifications:
		if notification.Type != NotificationStateChanged || notification.State != StatePoweredOff {
			t.Fatalf("unexpected notification %+v", notification)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state notification")
	}
}

func TestCloseFailsPendingAndSubsequentRequests(t *testing.T) {
	central, fake := newTestCentral(t)
	resolveState(t, central, fake, StatePoweredOn)
	target := uuid.New()

	pending := make(chan error, 1)
	central.Connect(target, time.Minute, func(err error) { pending <- err })

	central.Close()
	if err := awaitErr(t, pending); !errors.Is(err, ErrCentralClosed) {
		t.Fatalf("expected ErrCentralClosed for pending request, got %v", err)
	}

	late := make(chan error, 1)
	central.Connect(target, time.Minute, func(err error) { late <- err })
	if err := awaitErr(t, late); !errors.Is(err, ErrCentralClosed) {
		t.Fatalf("expected ErrCentralClosed for late request, got %v", err)
	}
}

func TestCloseFailsRequestsParkedAtReadinessGate(t *testing.T) {
	central, fake := newTestCentral(t)
	target := uuid.New()

	// The state never resolves, so everything below parks at the gate.
	connectOutcome := make(chan error, 1)
	central.Connect(target, time.Minute, func(err error) { connectOutcome <- err })
	disconnectOutcome := make(chan error, 1)
	central.Disconnect(target, time.Minute, func(err error) { disconnectOutcome <- err })
	scanEvents := make(chan ScanEvent, 4)
	central.Scan(time.Minute, nil, func(event ScanEvent) { scanEvents <- event })

	central.Close()

	if err := awaitErr(t, connectOutcome); !errors.Is(err, ErrCentralClosed) {
		t.Fatalf("parked connect got %v, want ErrCentralClosed", err)
	}
	if err := awaitErr(t, disconnectOutcome); !errors.Is(err, ErrCentralClosed) {
		t.Fatalf("parked disconnect got %v, want ErrCentralClosed", err)
	}
	event := awaitScanEvent(t, scanEvents)
	if event.Type != ScanStopped || !errors.Is(event.Err, ErrCentralClosed) {
		t.Fatalf("parked scan got %+v, want stopped with ErrCentralClosed", event)
	}

	if count := fake.connectCount(target); count != 0 {
		t.Fatalf("closed central issued %d connect command(s)", count)
	}
	if count := fake.cancelCount(target); count != 0 {
		t.Fatalf("closed central issued %d cancel command(s)", count)
	}
	if count := fake.scanCount(); count != 0 {
		t.Fatalf("closed central issued %d scan command(s)", count)
	}
}

func TestStateResolutionAfterCloseIssuesNoCommands(t *testing.T) {
	central, fake := newTestCentral(t)
	target := uuid.New()

	outcome := make(chan error, 2)
	central.Connect(target, time.Minute, func(err error) { outcome <- err })
	central.Close()

	if err := awaitErr(t, outcome); !errors.Is(err, ErrCentralClosed) {
		t.Fatalf("parked connect got %v, want ErrCentralClosed", err)
	}

	fake.emit(StateChangedEvent(StatePoweredOn))
	resolved := make(chan struct{})
	central.ObserveState(func(ManagerState) { close(resolved) })
	select {
	case <-resolved:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state resolution")
	}

	if count := fake.connectCount(target); count != 0 {
		t.Fatalf("closed central issued %d connect command(s)", count)
	}
	if len(outcome) != 0 {
		t.Fatal("parked request resolved a second time")
	}
}
