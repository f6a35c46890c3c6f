package swiftybluetooth

import "sync"

// stateGate owns the manager's readiness state and the callbacks parked on
// it while the state is still transitional.
type stateGate struct {
	mu      sync.Mutex
	state   ManagerState
	waiting []func(ManagerState)
}

func newStateGate() *stateGate {
	return &stateGate{state: StateUnknown}
}

func (gate *stateGate) current() ManagerState {
	gate.mu.Lock()
	defer gate.mu.Unlock()
	return gate.state
}

// observe invokes callback with the resolved state: immediately when the
// current state is terminal, otherwise once the next terminal state change
// drains the queue. Queued callbacks fire in registration order.
func (gate *stateGate) observe(callback func(ManagerState)) {
	gate.mu.Lock()
	if !gate.state.resolved() {
		gate.waiting = append(gate.waiting, callback)
		gate.mu.Unlock()
		return
	}
	state := gate.state
	gate.mu.Unlock()

	callback(state)
}

// setState records the new state and returns the callbacks to invoke, in
// order. The caller invokes them outside the gate's lock.
func (gate *stateGate) setState(state ManagerState) []func(ManagerState) {
	gate.mu.Lock()
	defer gate.mu.Unlock()

	gate.state = state
	if !state.resolved() {
		return nil
	}
	drained := gate.waiting
	gate.waiting = nil
	return drained
}

// abort drains the parked callbacks without changing the state, used at
// shutdown. The caller invokes them outside the lock.
func (gate *stateGate) abort() []func(ManagerState) {
	gate.mu.Lock()
	defer gate.mu.Unlock()

	drained := gate.waiting
	gate.waiting = nil
	return drained
}

// readyError maps a resolved state to the error handed to request
// callbacks: nil when PoweredOn, a state-specific sentinel otherwise.
func readyError(state ManagerState) error {
	switch state {
	case StatePoweredOn:
		return nil
	case StateUnsupported:
		return ErrBluetoothUnsupported
	case StateUnauthorized:
		return ErrBluetoothUnauthorized
	default:
		return ErrBluetoothPoweredOff
	}
}
