package swiftybluetooth

import "github.com/google/uuid"

// Manager is the hardware-facing surface of a central manager. Commands are
// fire-and-forget; outcomes arrive later as ManagerEvents. Implementations
// must close the Events channel when they shut down.
//
// Only the coordinators in this package issue commands, and only the
// dispatch loop consumes events; ConnectionState is the one direct read,
// used for the already-satisfied check at request admission.
type Manager interface {
	StartScan(serviceUUIDs []uuid.UUID)
	StopScan()
	Connect(target uuid.UUID)
	CancelConnection(target uuid.UUID)
	ConnectionState(target uuid.UUID) ConnectionState
	Events() <-chan ManagerEvent
}

type ManagerEventType string

const (
	EventStateChanged     ManagerEventType = "state_changed"
	EventConnected        ManagerEventType = "connected"
	EventDisconnected     ManagerEventType = "disconnected"
	EventFailedToConnect  ManagerEventType = "failed_to_connect"
	EventDiscovered       ManagerEventType = "discovered"
	EventWillRestoreState ManagerEventType = "will_restore_state"
)

// ManagerEvent is one asynchronous notification from the manager. Only the
// fields relevant to Type are populated.
type ManagerEvent struct {
	Type          ManagerEventType
	State         ManagerState
	Target        uuid.UUID
	Err           error
	Advertisement Advertisement
	RSSI          int16
	Restored      RestoredState
}

// StateChangedEvent reports a readiness state transition.
func StateChangedEvent(state ManagerState) ManagerEvent {
	return ManagerEvent{Type: EventStateChanged, State: state}
}

// ConnectedEvent reports a successful connection to target.
func ConnectedEvent(target uuid.UUID) ManagerEvent {
	return ManagerEvent{Type: EventConnected, Target: target}
}

// DisconnectedEvent reports a completed disconnection. err is non-nil when
// the link dropped rather than ended cleanly.
func DisconnectedEvent(target uuid.UUID, err error) ManagerEvent {
	return ManagerEvent{Type: EventDisconnected, Target: target, Err: err}
}

// FailedToConnectEvent reports a failed connection attempt. err may be nil
// when the manager supplied no reason.
func FailedToConnectEvent(target uuid.UUID, err error) ManagerEvent {
	return ManagerEvent{Type: EventFailedToConnect, Target: target, Err: err}
}

// DiscoveredEvent reports one advertisement seen during discovery.
func DiscoveredEvent(target uuid.UUID, advertisement Advertisement, rssi int16) ManagerEvent {
	return ManagerEvent{Type: EventDiscovered, Target: target, Advertisement: advertisement, RSSI: rssi}
}

// WillRestoreStateEvent passes through a preserved-session payload.
func WillRestoreStateEvent(restored RestoredState) ManagerEvent {
	return ManagerEvent{Type: EventWillRestoreState, Restored: restored}
}
