package netstate

import "vpn-switcher/internal/trust"

// Classify derives the trust key for a connection: wireless connections
// classify by SSID, everything else by interface name. Total: a wifi
// connection whose SSID could not be read falls back to its interface.
func Classify(c ConnectionInfo) trust.Key {
	if c.Kind == KindWifi && c.SSID != "" {
		return trust.SSIDKey(c.SSID)
	}
	return trust.InterfaceKey(c.Interface)
}
