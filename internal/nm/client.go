// Package nm is the NetworkManager D-Bus client. It implements both sides
// of the daemon's external contract: the subscribable network-state stream
// consumed by the observer, and the VPN activate/deactivate commands issued
// by the decision engine.
package nm

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/netstate"
)

const (
	busName       = "org.freedesktop.NetworkManager"
	nmPath        = "/org/freedesktop/NetworkManager"
	nmIface       = "org.freedesktop.NetworkManager"
	settingsPath  = "/org/freedesktop/NetworkManager/Settings"
	settingsIface = "org.freedesktop.NetworkManager.Settings"
	connIface     = "org.freedesktop.NetworkManager.Settings.Connection"
	activeIface   = "org.freedesktop.NetworkManager.Connection.Active"
	deviceIface   = "org.freedesktop.NetworkManager.Device"
	wirelessIface = "org.freedesktop.NetworkManager.Device.Wireless"
	apIface       = "org.freedesktop.NetworkManager.AccessPoint"
	propsIface    = "org.freedesktop.DBus.Properties"

	connTypeWifi      = "802-11-wireless"
	connTypeVPN       = "vpn"
	connTypeWireGuard = "wireguard"
)

// Client talks to NetworkManager on the system bus.
type Client struct {
	conn *dbus.Conn
	nm   dbus.BusObject

	settle      time.Duration
	callTimeout time.Duration

	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// Connect opens the system bus. settle is how long to wait after a state
// change signal before querying (NetworkManager settles asynchronously);
// callTimeout bounds every D-Bus call.
func Connect(settle, callTimeout time.Duration) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, mapDBusError(err)
	}
	return &Client{
		conn:        conn,
		nm:          conn.Object(busName, nmPath),
		settle:      settle,
		callTimeout: callTimeout,
		stop:        make(chan struct{}),
	}, nil
}

// Subscribe registers for NetworkManager state-change signals and returns a
// stream of normalized snapshots. An initial snapshot of the current state
// is emitted so the engine evaluates at startup, not only on the first
// change.
func (c *Client) Subscribe(ctx context.Context) (<-chan netstate.Snapshot, error) {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(nmPath)),
		dbus.WithMatchInterface(nmIface),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return nil, mapDBusError(err)
	}
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbus.ObjectPath(nmPath)),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, mapDBusError(err)
	}

	signals := make(chan *dbus.Signal, 256)
	c.conn.Signal(signals)

	out := make(chan netstate.Snapshot, 16)
	c.wg.Add(1)
	go c.pump(ctx, signals, out)
	return out, nil
}

// pump coalesces bursts of D-Bus signals: each signal re-arms the settle
// timer, and only when it fires is the current state queried and emitted.
func (c *Client) pump(ctx context.Context, signals chan *dbus.Signal, out chan<- netstate.Snapshot) {
	defer c.wg.Done()
	defer close(out)

	timer := time.NewTimer(0) // immediate initial query
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			log.Debug().Str("signal", sig.Name).Msg("network manager signal")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.settle)
		case <-timer.C:
			snap, err := c.querySnapshot(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("snapshot query failed")
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}
}

// Close tears down the bus connection and waits for the signal pump.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

// callCtx derives the per-call deadline.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// prop fetches a D-Bus property into dst.
func (c *Client) prop(ctx context.Context, obj dbus.BusObject, iface, name string, dst interface{}) error {
	var v dbus.Variant
	call := obj.CallWithContext(ctx, propsIface+".Get", 0, iface, name)
	if call.Err != nil {
		return mapDBusError(call.Err)
	}
	if err := call.Store(&v); err != nil {
		return mapDBusError(err)
	}
	return v.Store(dst)
}
