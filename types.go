package swiftybluetooth

import "github.com/google/uuid"

// ManagerState mirrors the central manager's asynchronous readiness state.
// Unknown and Resetting are transitional; every other value is terminal
// until the manager reports a new state.
type ManagerState int

const (
	StateUnknown ManagerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (state ManagerState) String() string {
	switch state {
	case StateUnknown:
		return "unknown"
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "invalid"
	}
}

func (state ManagerState) resolved() bool {
	return state != StateUnknown && state != StateResetting
}

// ConnectionState is the manager-reported link state of one peripheral.
type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnecting
)

func (state ConnectionState) String() string {
	switch state {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnecting:
		return "disconnecting"
	default:
		return "invalid"
	}
}

// Advertisement carries the payload broadcast by a discovered peripheral.
type Advertisement struct {
	LocalName        string
	ServiceUUIDs     []uuid.UUID
	ManufacturerData []byte
}

type ScanEventType string

const (
	ScanStarted    ScanEventType = "started"
	ScanDiscovered ScanEventType = "discovered"
	ScanStopped    ScanEventType = "stopped"
)

// ScanEvent is delivered to the active scan callback: one started event,
// zero or more discoveries, then exactly one stopped event. Err is set on
// the stopped event when the scan ended for a reason other than its
// deadline or an explicit stop.
type ScanEvent struct {
	Type          ScanEventType
	Peripheral    uuid.UUID
	Advertisement Advertisement
	RSSI          int16
	Err           error
}

// RestoredState is the opaque session payload the manager hands back when
// it relaunches with preserved state. Broadcast as-is, never interpreted.
type RestoredState struct {
	Peripherals  []uuid.UUID
	ScanServices []uuid.UUID
}

type NotificationType string

const (
	NotificationStateChanged     NotificationType = "state_changed"
	NotificationWillRestoreState NotificationType = "will_restore_state"
)

// Notification is a broadcast event published to hub subscribers, not tied
// to any request.
type Notification struct {
	Type     NotificationType
	State    ManagerState
	Restored RestoredState
}
