package swiftybluetooth

import (
	"errors"
	"fmt"
)

var (
	// ErrBluetoothUnsupported indicates the device has no usable Bluetooth radio.
	ErrBluetoothUnsupported = errors.New("bluetooth unsupported on this device")
	// ErrBluetoothUnauthorized indicates the application is not authorized to use Bluetooth.
	ErrBluetoothUnauthorized = errors.New("bluetooth use unauthorized")
	// ErrBluetoothPoweredOff indicates the radio is currently powered off.
	ErrBluetoothPoweredOff = errors.New("bluetooth powered off")
	// ErrPeripheralFailedToConnect indicates the manager reported a connect
	// failure without an underlying reason.
	ErrPeripheralFailedToConnect = errors.New("peripheral failed to connect, no reason given")
	// ErrCentralClosed indicates the central was closed by the caller.
	ErrCentralClosed = errors.New("central closed")
)

// TimeoutError is returned to every waiter of a request whose deadline
// elapsed with no response from the manager.
type TimeoutError struct {
	Operation string
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out", err.Operation)
}

// OperationError wraps a failure the manager reported for an operation.
type OperationError struct {
	Operation  string
	Underlying error
}

func (err *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", err.Operation, err.Underlying)
}

func (err *OperationError) Unwrap() error {
	return err.Underlying
}

// ScanTerminatedError is delivered on the stopped event when the manager
// state degraded while a scan was active.
type ScanTerminatedError struct {
	State ManagerState
}

func (err *ScanTerminatedError) Error() string {
	return fmt.Sprintf("scan terminated unexpectedly, manager state %s", err.State)
}
