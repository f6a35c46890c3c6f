package swiftybluetooth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// scanRequest is the single live discovery operation. The deadline timer
// captures the token, never the request, so a timer outliving its request
// cannot resurrect it.
type scanRequest struct {
	token     uint64
	callback  func(ScanEvent)
	timer     *time.Timer
	startOnce sync.Once
}

// deliverStarted emits the started event at most once. Every other event
// for the request passes through here first, so a caller never sees a
// discovery or stop before its own started event, even when the request
// became visible to the dispatcher before start finished delivering it.
func (request *scanRequest) deliverStarted() {
	request.startOnce.Do(func() {
		request.callback(ScanEvent{Type: ScanStarted})
	})
}

// scanner owns the one scan slot. Starting a scan while one is active
// replaces it: the old caller's stopped event is delivered before the new
// caller's started event.
type scanner struct {
	mu        sync.Mutex
	manager   Manager
	active    *scanRequest
	nextToken uint64
}

func newScanner(manager Manager) *scanner {
	return &scanner{manager: manager}
}

func (scan *scanner) start(timeout time.Duration, serviceUUIDs []uuid.UUID, callback func(ScanEvent)) {
	scan.mu.Lock()
	replaced := scan.active
	scan.nextToken++
	request := &scanRequest{token: scan.nextToken, callback: callback}
	scan.active = request
	scan.mu.Unlock()

	if replaced != nil {
		if replaced.timer != nil {
			replaced.timer.Stop()
		}
		scan.manager.StopScan()
		replaced.deliverStarted()
		replaced.callback(ScanEvent{Type: ScanStopped})
	}

	request.deliverStarted()
	scan.manager.StartScan(serviceUUIDs)

	timer := time.AfterFunc(timeout, func() {
		scan.expire(request.token)
	})
	scan.mu.Lock()
	if scan.active == request {
		request.timer = timer
		scan.mu.Unlock()
		return
	}
	scan.mu.Unlock()
	timer.Stop()
}

// stop clears the active request, delivers its stopped event with err, and
// always tells the manager to halt discovery. Idempotent when no scan is
// active.
func (scan *scanner) stop(err error) {
	scan.mu.Lock()
	request := scan.active
	scan.active = nil
	scan.mu.Unlock()

	if request != nil {
		if request.timer != nil {
			request.timer.Stop()
		}
		request.deliverStarted()
		request.callback(ScanEvent{Type: ScanStopped, Err: err})
	}
	scan.manager.StopScan()
}

// expire is the deadline path. A scan running out its deadline is "the
// scan ended", not a failure: the stopped event carries no error. A stale
// token means the request was already stopped or replaced; no-op.
func (scan *scanner) expire(token uint64) {
	scan.mu.Lock()
	if scan.active == nil || scan.active.token != token {
		scan.mu.Unlock()
		return
	}
	request := scan.active
	scan.active = nil
	scan.mu.Unlock()

	request.deliverStarted()
	request.callback(ScanEvent{Type: ScanStopped})
	scan.manager.StopScan()
}

// discovered forwards one advertisement to the active request, dropping it
// when no scan is live.
func (scan *scanner) discovered(target uuid.UUID, advertisement Advertisement, rssi int16) {
	scan.mu.Lock()
	request := scan.active
	scan.mu.Unlock()

	if request == nil {
		return
	}
	request.deliverStarted()
	request.callback(ScanEvent{
		Type:          ScanDiscovered,
		Peripheral:    target,
		Advertisement: advertisement,
		RSSI:          rssi,
	})
}
