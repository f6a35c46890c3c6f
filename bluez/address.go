package bluez

import (
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

// Peripheral identities exposed by this backend are derived from the
// device's Bluetooth address, so the same peripheral always resolves to the
// same UUID across restarts and rediscoveries.
var deviceNamespace = uuid.MustParse("f0c5b1a4-8a5d-4d8e-9c7b-2e6f0d3a1b42")

// deviceObjectPath converts an address like "AA:BB:CC:DD:EE:FF" to the
// BlueZ object path "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// addressFromPath extracts the device address from a BlueZ object path, or
// returns "" when the path does not name a device under adapter.
func addressFromPath(adapter dbus.ObjectPath, path dbus.ObjectPath) string {
	prefix := string(adapter) + "/dev_"
	raw := string(path)
	if !strings.HasPrefix(raw, prefix) {
		return ""
	}
	address := strings.ReplaceAll(raw[len(prefix):], "_", ":")
	// Signals for child objects (services, characteristics) carry the
	// device path plus a suffix; those are not device addresses.
	if strings.Contains(address, "/") {
		return ""
	}
	return address
}

func deviceUUID(address string) uuid.UUID {
	return uuid.NewSHA1(deviceNamespace, []byte(strings.ToUpper(address)))
}
