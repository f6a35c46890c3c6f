// Package swiftybluetooth coordinates asynchronous requests against a single
// Bluetooth central manager.
//
// The central manager completes scan, connect and disconnect operations
// out-of-band, on its own schedule, sometimes not at all. This package owns
// the bookkeeping that makes that usable: readiness gating, deduplication of
// in-flight requests per peripheral, deadline timers, and exactly-once
// fan-out of results to every caller that asked for the same operation.
//
// The hardware side is abstracted behind the Manager interface. A concrete
// BlueZ implementation over the system D-Bus lives in the bluez subpackage.
package swiftybluetooth
