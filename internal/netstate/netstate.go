// Package netstate normalizes the network manager's connectivity facts into
// the small event stream the decision engine consumes.
package netstate

import "errors"

// ErrUnavailable is fatal: the network-state provider cannot be subscribed
// to, or its stream was lost. The daemon exits rather than stall silently.
var ErrUnavailable = errors.New("network-state provider unavailable")

// Level is the manager's classification of internet reachability.
type Level int

const (
	LevelNone Level = iota
	LevelPortal
	LevelLimited
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelPortal:
		return "portal"
	case LevelLimited:
		return "limited"
	case LevelFull:
		return "full"
	default:
		return "unknown"
	}
}

// LevelFromNM maps NetworkManager NMConnectivityState codes
// (0 unknown, 1 none, 2 portal, 3 limited, 4 full).
func LevelFromNM(v uint32) Level {
	switch v {
	case 2:
		return LevelPortal
	case 3:
		return LevelLimited
	case 4:
		return LevelFull
	default:
		return LevelNone
	}
}

// Kind is the broad connection type of the primary non-VPN connection.
type Kind int

const (
	KindOther Kind = iota
	KindWifi
	KindWired
)

// ConnectionInfo describes the active non-VPN primary connection.
type ConnectionInfo struct {
	Kind      Kind   `json:"kind"`
	SSID      string `json:"ssid,omitempty"`
	Interface string `json:"interface,omitempty"`
}

// Snapshot is one observed connectivity state. Conn is nil when no non-VPN
// connection is active.
type Snapshot struct {
	Conn  *ConnectionInfo `json:"connection"`
	Level Level           `json:"level"`
}

// Equal reports whether two snapshots describe the same connection identity
// and connectivity level. Used by the observer's no-change filter.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Level != o.Level {
		return false
	}
	if (s.Conn == nil) != (o.Conn == nil) {
		return false
	}
	if s.Conn == nil {
		return true
	}
	return *s.Conn == *o.Conn
}
