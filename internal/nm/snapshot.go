package nm

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/netstate"
)

// querySnapshot reads NetworkManager's current state and normalizes it: the
// overall connectivity level plus the primary non-VPN active connection.
func (c *Client) querySnapshot(ctx context.Context) (netstate.Snapshot, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var level uint32
	if err := c.prop(ctx, c.nm, nmIface, "Connectivity", &level); err != nil {
		return netstate.Snapshot{}, err
	}

	conn, err := c.primaryConnection(ctx)
	if err != nil {
		return netstate.Snapshot{}, err
	}

	return netstate.Snapshot{Conn: conn, Level: netstate.LevelFromNM(level)}, nil
}

// primaryConnection picks the active non-VPN connection the host is using:
// the default-routed one if any, otherwise the first. VPN connections the
// engine itself manages are excluded so its own activations never
// re-trigger classification. Returns nil when nothing qualifies.
func (c *Client) primaryConnection(ctx context.Context) (*netstate.ConnectionInfo, error) {
	var paths []dbus.ObjectPath
	if err := c.prop(ctx, c.nm, nmIface, "ActiveConnections", &paths); err != nil {
		return nil, err
	}

	var first *netstate.ConnectionInfo
	for _, p := range paths {
		obj := c.conn.Object(busName, p)

		var connType string
		if err := c.prop(ctx, obj, activeIface, "Type", &connType); err != nil {
			log.Warn().Err(err).Str("path", string(p)).Msg("active connection type unreadable")
			continue
		}
		if connType == connTypeVPN || connType == connTypeWireGuard {
			continue
		}

		info, err := c.connectionInfo(ctx, obj, connType)
		if err != nil {
			log.Warn().Err(err).Str("path", string(p)).Msg("active connection info unreadable")
			continue
		}

		var isDefault bool
		if err := c.prop(ctx, obj, activeIface, "Default", &isDefault); err == nil && isDefault {
			return info, nil
		}
		if first == nil {
			first = info
		}
	}
	return first, nil
}

// connectionInfo resolves the connection's interface and, for wireless, the
// SSID of the associated access point.
func (c *Client) connectionInfo(ctx context.Context, active dbus.BusObject, connType string) (*netstate.ConnectionInfo, error) {
	info := &netstate.ConnectionInfo{Kind: netstate.KindOther}
	switch connType {
	case connTypeWifi:
		info.Kind = netstate.KindWifi
	case "802-3-ethernet":
		info.Kind = netstate.KindWired
	}

	var devices []dbus.ObjectPath
	if err := c.prop(ctx, active, activeIface, "Devices", &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return info, nil
	}

	dev := c.conn.Object(busName, devices[0])
	if err := c.prop(ctx, dev, deviceIface, "Interface", &info.Interface); err != nil {
		return nil, err
	}

	if info.Kind == netstate.KindWifi {
		if ssid, err := c.activeSSID(ctx, dev); err != nil {
			// classification falls back to the interface name
			log.Warn().Err(err).Str("interface", info.Interface).Msg("could not read SSID")
		} else {
			info.SSID = ssid
		}
	}
	return info, nil
}

func (c *Client) activeSSID(ctx context.Context, dev dbus.BusObject) (string, error) {
	var apPath dbus.ObjectPath
	if err := c.prop(ctx, dev, wirelessIface, "ActiveAccessPoint", &apPath); err != nil {
		return "", err
	}
	if apPath == "/" || apPath == "" {
		return "", nil
	}
	ap := c.conn.Object(busName, apPath)
	var ssid []byte
	if err := c.prop(ctx, ap, apIface, "Ssid", &ssid); err != nil {
		return "", err
	}
	return string(ssid), nil
}
