package nm

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/vpn"
)

// Activate brings up the VPN profile (a NetworkManager connection UUID).
// Activating an already-active profile is a no-op success.
func (c *Client) Activate(ctx context.Context, profile string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	if active, err := c.activeVPNs(ctx); err == nil {
		if _, up := active[profile]; up {
			log.Debug().Str("profile", profile).Msg("profile already active")
			return nil
		}
	}

	connPath, err := c.settingsPathForUUID(ctx, profile)
	if err != nil {
		return err
	}

	// Empty device and specific-object paths let NetworkManager pick.
	call := c.nm.CallWithContext(ctx, nmIface+".ActivateConnection", 0,
		connPath, dbus.ObjectPath("/"), dbus.ObjectPath("/"))
	if call.Err != nil {
		return mapDBusError(call.Err)
	}
	return nil
}

// Deactivate tears down the VPN profile. Deactivating a profile that is not
// active is a no-op success.
func (c *Client) Deactivate(ctx context.Context, profile string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	active, err := c.activeVPNs(ctx)
	if err != nil {
		return err
	}
	path, up := active[profile]
	if !up {
		log.Debug().Str("profile", profile).Msg("profile already inactive")
		return nil
	}

	call := c.nm.CallWithContext(ctx, nmIface+".DeactivateConnection", 0, path)
	if call.Err != nil {
		return mapDBusError(call.Err)
	}
	return nil
}

// ActiveVPNProfile reports the UUID of the currently active VPN connection,
// or "" if none. Used once at startup to reconcile the engine's tracking
// with reality.
func (c *Client) ActiveVPNProfile(ctx context.Context) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	active, err := c.activeVPNs(ctx)
	if err != nil {
		return "", err
	}
	for uuid := range active {
		return uuid, nil
	}
	return "", nil
}

// activeVPNs maps active VPN connection UUIDs to their object paths.
func (c *Client) activeVPNs(ctx context.Context) (map[string]dbus.ObjectPath, error) {
	var paths []dbus.ObjectPath
	if err := c.prop(ctx, c.nm, nmIface, "ActiveConnections", &paths); err != nil {
		return nil, err
	}

	out := make(map[string]dbus.ObjectPath)
	for _, p := range paths {
		obj := c.conn.Object(busName, p)
		var connType string
		if err := c.prop(ctx, obj, activeIface, "Type", &connType); err != nil {
			continue
		}
		if connType != connTypeVPN && connType != connTypeWireGuard {
			continue
		}
		var uuid string
		if err := c.prop(ctx, obj, activeIface, "Uuid", &uuid); err != nil {
			continue
		}
		out[uuid] = p
	}
	return out, nil
}

func (c *Client) settingsPathForUUID(ctx context.Context, uuid string) (dbus.ObjectPath, error) {
	settings := c.conn.Object(busName, dbus.ObjectPath(settingsPath))
	var path dbus.ObjectPath
	call := settings.CallWithContext(ctx, settingsIface+".GetConnectionByUuid", 0, uuid)
	if call.Err != nil {
		return "", fmt.Errorf("%w: unknown profile %q", vpn.ErrRejected, uuid)
	}
	if err := call.Store(&path); err != nil {
		return "", mapDBusError(err)
	}
	return path, nil
}

// ProfileIDByName resolves a VPN connection's display name to its UUID by
// scanning NetworkManager's saved connections. Used by switcherctl so users
// can write rules against names instead of UUIDs.
func (c *Client) ProfileIDByName(ctx context.Context, name string) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	settings := c.conn.Object(busName, dbus.ObjectPath(settingsPath))
	var paths []dbus.ObjectPath
	call := settings.CallWithContext(ctx, settingsIface+".ListConnections", 0)
	if call.Err != nil {
		return "", mapDBusError(call.Err)
	}
	if err := call.Store(&paths); err != nil {
		return "", mapDBusError(err)
	}

	for _, p := range paths {
		obj := c.conn.Object(busName, p)
		var cfg map[string]map[string]dbus.Variant
		call := obj.CallWithContext(ctx, connIface+".GetSettings", 0)
		if call.Err != nil {
			continue
		}
		if err := call.Store(&cfg); err != nil {
			continue
		}
		meta, ok := cfg["connection"]
		if !ok {
			continue
		}
		var connType, id, uuid string
		_ = meta["type"].Store(&connType)
		_ = meta["id"].Store(&id)
		_ = meta["uuid"].Store(&uuid)
		if (connType == connTypeVPN || connType == connTypeWireGuard) && id == name {
			return uuid, nil
		}
	}
	return "", fmt.Errorf("%w: no VPN connection named %q", vpn.ErrRejected, name)
}
