package nm

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"vpn-switcher/internal/vpn"
)

// mapDBusError folds transport-level failures into the driver error
// taxonomy: deadline/no-reply -> Timeout, bus or service loss ->
// ManagerUnavailable, everything NetworkManager explicitly refused ->
// Rejected.
func mapDBusError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", vpn.ErrTimeout, err)
	}

	var dbe dbus.Error
	if errors.As(err, &dbe) {
		switch dbe.Name {
		case "org.freedesktop.DBus.Error.NoReply",
			"org.freedesktop.DBus.Error.Timeout":
			return fmt.Errorf("%w: %s", vpn.ErrTimeout, dbe.Name)
		case "org.freedesktop.DBus.Error.ServiceUnknown",
			"org.freedesktop.DBus.Error.NameHasNoOwner",
			"org.freedesktop.DBus.Error.Disconnected",
			"org.freedesktop.DBus.Error.NotConnected":
			return fmt.Errorf("%w: %s", vpn.ErrManagerUnavailable, dbe.Name)
		default:
			return fmt.Errorf("%w: %s", vpn.ErrRejected, dbe.Error())
		}
	}

	return fmt.Errorf("%w: %v", vpn.ErrManagerUnavailable, err)
}
