package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	swiftybluetooth "github.com/Ivan-Chuchman/SwiftyBluetooth"
)

// pump translates raw bus signals into ManagerEvents until the connection
// goes away.
func (manager *Manager) pump() {
	defer close(manager.events)
	for {
		select {
		case <-manager.quit:
			return
		case signal, ok := <-manager.signals:
			if !ok {
				return
			}
			manager.handleSignal(signal)
		}
	}
}

func (manager *Manager) handleSignal(signal *dbus.Signal) {
	switch signal.Name {
	case propsIface + ".PropertiesChanged":
		manager.handlePropertiesChanged(signal)
	case objectManagerIface + ".InterfacesAdded":
		manager.handleInterfacesAdded(signal)
	}
}

func (manager *Manager) handlePropertiesChanged(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}
	iface, ok := signal.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch iface {
	case adapterIface:
		if signal.Path != manager.adapter {
			return
		}
		if variant, ok := changed["Powered"]; ok {
			if powered, ok := variant.Value().(bool); ok {
				state := swiftybluetooth.StatePoweredOff
				if powered {
					state = swiftybluetooth.StatePoweredOn
				}
				manager.emit(swiftybluetooth.StateChangedEvent(state))
			}
		}
	case deviceIface:
		target, ok := manager.deviceID(signal.Path)
		if !ok {
			return
		}
		if variant, ok := changed["Connected"]; ok {
			if connected, ok := variant.Value().(bool); ok {
				if connected {
					manager.emit(swiftybluetooth.ConnectedEvent(target))
				} else {
					manager.emit(swiftybluetooth.DisconnectedEvent(target, nil))
				}
			}
		}
		// RSSI updates are how BlueZ reports repeat sightings of an
		// already-known device during discovery.
		if variant, ok := changed["RSSI"]; ok {
			if rssi, ok := variant.Value().(int16); ok {
				manager.emitDiscovery(target, signal.Path, rssi)
			}
		}
	}
}

func (manager *Manager) handleInterfacesAdded(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}
	path, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	interfaces, ok := signal.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	properties, ok := interfaces[deviceIface]
	if !ok {
		return
	}
	target, ok := manager.deviceID(path)
	if !ok {
		return
	}

	rssi, _ := properties["RSSI"].Value().(int16)
	manager.emit(swiftybluetooth.DiscoveredEvent(target, advertisementFromProperties(properties), rssi))
}

// emitDiscovery re-reads the device's advertisement properties for a
// repeat sighting.
func (manager *Manager) emitDiscovery(target uuid.UUID, path dbus.ObjectPath, rssi int16) {
	properties := map[string]dbus.Variant{}
	object := manager.conn.Object(busName, path)
	if err := object.Call(propsIface+".GetAll", 0, deviceIface).Store(&properties); err != nil {
		manager.logger.Debug("read device properties failed", "path", path, "err", err)
	}
	manager.emit(swiftybluetooth.DiscoveredEvent(target, advertisementFromProperties(properties), rssi))
}

func advertisementFromProperties(properties map[string]dbus.Variant) swiftybluetooth.Advertisement {
	advertisement := swiftybluetooth.Advertisement{}

	if name, ok := properties["Name"].Value().(string); ok {
		advertisement.LocalName = name
	} else if alias, ok := properties["Alias"].Value().(string); ok {
		advertisement.LocalName = alias
	}

	if raw, ok := properties["UUIDs"].Value().([]string); ok {
		for _, value := range raw {
			if serviceUUID, err := uuid.Parse(value); err == nil {
				advertisement.ServiceUUIDs = append(advertisement.ServiceUUIDs, serviceUUID)
			}
		}
	}

	if data, ok := properties["ManufacturerData"].Value().(map[uint16]dbus.Variant); ok {
		for _, variant := range data {
			if payload, ok := variant.Value().([]byte); ok {
				advertisement.ManufacturerData = payload
				break
			}
		}
	}

	return advertisement
}
