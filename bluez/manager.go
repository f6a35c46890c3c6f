// Package bluez implements swiftybluetooth.Manager over the BlueZ D-Bus
// API on the system bus.
package bluez

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	swiftybluetooth "github.com/Ivan-Chuchman/SwiftyBluetooth"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	propsIface         = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

type Options struct {
	// Adapter is the controller name, e.g. "hci0".
	Adapter string
	Logger  *slog.Logger
}

func (options Options) withDefaults() Options {
	if options.Adapter == "" {
		options.Adapter = "hci0"
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return options
}

// Manager drives one BlueZ adapter. Commands are translated to D-Bus
// method calls; adapter and device signals are pumped back out as
// ManagerEvents. Peripheral identity is a UUID derived from the device
// address (see address.go); the manager keeps the address mapping for
// every identity it has handed out.
type Manager struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *slog.Logger

	events  chan swiftybluetooth.ManagerEvent
	signals chan *dbus.Signal
	quit    chan struct{}

	mu    sync.Mutex
	paths map[uuid.UUID]dbus.ObjectPath

	closeOnce sync.Once
}

var _ swiftybluetooth.Manager = (*Manager)(nil)

func NewManager(options Options) (*Manager, error) {
	options = options.withDefaults()

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	if err := checkBluezPresent(conn); err != nil {
		conn.Close()
		return nil, err
	}

	manager := &Manager{
		conn:    conn,
		adapter: dbus.ObjectPath("/org/bluez/" + options.Adapter),
		logger:  options.Logger,
		events:  make(chan swiftybluetooth.ManagerEvent, 64),
		signals: make(chan *dbus.Signal, 64),
		quit:    make(chan struct{}),
		paths:   map[uuid.UUID]dbus.ObjectPath{},
	}

	for _, rule := range []string{
		"type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'",
		"type='signal',interface='" + objectManagerIface + "',member='InterfacesAdded',sender='" + busName + "'",
	} {
		if call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			conn.Close()
			return nil, fmt.Errorf("add signal match: %w", call.Err)
		}
	}
	conn.Signal(manager.signals)

	// Seed the readiness gate from the adapter's current Powered value;
	// later transitions arrive through PropertiesChanged.
	manager.events <- swiftybluetooth.StateChangedEvent(manager.currentState())

	go manager.pump()
	return manager, nil
}

func checkBluezPresent(conn *dbus.Conn) error {
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("list bus names: %w", err)
	}
	for _, name := range names {
		if name == busName {
			return nil
		}
	}
	return fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
}

// Register maps a device address to its peripheral identity without a
// prior discovery, for connecting to devices known out-of-band.
func (manager *Manager) Register(address string) uuid.UUID {
	id := deviceUUID(address)
	manager.mu.Lock()
	manager.paths[id] = deviceObjectPath(manager.adapter, address)
	manager.mu.Unlock()
	return id
}

func (manager *Manager) Events() <-chan swiftybluetooth.ManagerEvent {
	return manager.events
}

func (manager *Manager) StartScan(serviceUUIDs []uuid.UUID) {
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if len(serviceUUIDs) > 0 {
		uuids := make([]string, 0, len(serviceUUIDs))
		for _, serviceUUID := range serviceUUIDs {
			uuids = append(uuids, serviceUUID.String())
		}
		filter["UUIDs"] = dbus.MakeVariant(uuids)
	}

	adapter := manager.conn.Object(busName, manager.adapter)
	if call := adapter.Call(adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		manager.logger.Debug("set discovery filter failed", "err", call.Err)
	}
	if call := adapter.Call(adapterIface+".StartDiscovery", 0); call.Err != nil {
		manager.logger.Debug("start discovery failed", "err", call.Err)
	}
}

func (manager *Manager) StopScan() {
	adapter := manager.conn.Object(busName, manager.adapter)
	if call := adapter.Call(adapterIface+".StopDiscovery", 0); call.Err != nil {
		// Expected when no discovery is running; stop is idempotent.
		manager.logger.Debug("stop discovery failed", "err", call.Err)
	}
}

func (manager *Manager) Connect(target uuid.UUID) {
	path, ok := manager.path(target)
	if !ok {
		manager.emit(swiftybluetooth.FailedToConnectEvent(target, fmt.Errorf("unknown peripheral %s", target)))
		return
	}
	// Device1.Connect blocks until the link is up or BlueZ gives up, so
	// the call runs off the caller's goroutine. Success surfaces through
	// the Connected property change, not through the reply.
	go func() {
		device := manager.conn.Object(busName, path)
		if call := device.Call(deviceIface+".Connect", 0); call.Err != nil {
			manager.emit(swiftybluetooth.FailedToConnectEvent(target, call.Err))
		}
	}()
}

func (manager *Manager) CancelConnection(target uuid.UUID) {
	path, ok := manager.path(target)
	if !ok {
		manager.emit(swiftybluetooth.DisconnectedEvent(target, fmt.Errorf("unknown peripheral %s", target)))
		return
	}
	go func() {
		device := manager.conn.Object(busName, path)
		if call := device.Call(deviceIface+".Disconnect", 0); call.Err != nil {
			manager.emit(swiftybluetooth.DisconnectedEvent(target, call.Err))
		}
	}()
}

// ConnectionState reads the device's Connected property. BlueZ does not
// expose connecting/disconnecting phases, so the answer is binary.
func (manager *Manager) ConnectionState(target uuid.UUID) swiftybluetooth.ConnectionState {
	path, ok := manager.path(target)
	if !ok {
		return swiftybluetooth.ConnectionDisconnected
	}
	connected, err := manager.getBool(path, deviceIface, "Connected")
	if err != nil || !connected {
		return swiftybluetooth.ConnectionDisconnected
	}
	return swiftybluetooth.ConnectionConnected
}

// Close tears down the signal subscription and the bus connection. The
// events channel closes once the signal pump drains.
func (manager *Manager) Close() error {
	manager.closeOnce.Do(func() {
		close(manager.quit)
		manager.conn.RemoveSignal(manager.signals)
		manager.conn.Close()
	})
	return nil
}

func (manager *Manager) currentState() swiftybluetooth.ManagerState {
	powered, err := manager.getBool(manager.adapter, adapterIface, "Powered")
	if err != nil {
		manager.logger.Debug("read adapter powered state failed", "err", err)
		return swiftybluetooth.StatePoweredOff
	}
	if powered {
		return swiftybluetooth.StatePoweredOn
	}
	return swiftybluetooth.StatePoweredOff
}

func (manager *Manager) getBool(path dbus.ObjectPath, iface, property string) (bool, error) {
	var variant dbus.Variant
	object := manager.conn.Object(busName, path)
	if err := object.Call(propsIface+".Get", 0, iface, property).Store(&variant); err != nil {
		return false, err
	}
	value, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", property)
	}
	return value, nil
}

func (manager *Manager) path(target uuid.UUID) (dbus.ObjectPath, bool) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	path, ok := manager.paths[target]
	return path, ok
}

// deviceID resolves a device object path to its peripheral identity,
// recording the mapping for later commands.
func (manager *Manager) deviceID(path dbus.ObjectPath) (uuid.UUID, bool) {
	address := addressFromPath(manager.adapter, path)
	if address == "" {
		return uuid.UUID{}, false
	}
	id := deviceUUID(address)
	manager.mu.Lock()
	manager.paths[id] = path
	manager.mu.Unlock()
	return id, true
}

func (manager *Manager) emit(event swiftybluetooth.ManagerEvent) {
	select {
	case manager.events <- event:
	case <-manager.quit:
	}
}
