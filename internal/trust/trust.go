// Package trust maps connection identities (SSID or interface name) to the
// VPN profile that should be active on them. The mapping lives in a YAML file
// compatible with the switcherctl tool and is re-read on every decision cycle
// so edits take effect without restarting the daemon.
package trust

// KeyKind distinguishes the two connection identity namespaces.
type KeyKind int

const (
	KindSSID KeyKind = iota
	KindInterface
)

// Key is the identity a connection classifies to.
type Key struct {
	Kind  KeyKind
	Value string
}

func SSIDKey(ssid string) Key { return Key{Kind: KindSSID, Value: ssid} }

func InterfaceKey(iface string) Key { return Key{Kind: KindInterface, Value: iface} }

func (k Key) String() string {
	if k.Kind == KindSSID {
		return "ssid:" + k.Value
	}
	return "iface:" + k.Value
}

// Rule maps a single matcher to a VPN profile. Exactly one of SSID or
// Interface is set; if both are set the SSID matcher wins.
type Rule struct {
	SSID      string `yaml:"ssid,omitempty" json:"ssid,omitempty"`
	Interface string `yaml:"interface,omitempty" json:"interface,omitempty"`
	Profile   string `yaml:"vpn_uuid" json:"vpn_uuid"`
}

// Matcher returns the rule's identity key.
func (r Rule) Matcher() Key {
	if r.SSID != "" {
		return SSIDKey(r.SSID)
	}
	return InterfaceKey(r.Interface)
}

// Matches reports whether the rule applies to the given key.
func (r Rule) Matches(k Key) bool {
	switch k.Kind {
	case KindSSID:
		return r.SSID != "" && r.SSID == k.Value
	case KindInterface:
		return r.Interface != "" && r.Interface == k.Value
	}
	return false
}

// Map is an immutable-per-lookup trust map snapshot: an ordered rule list
// plus an optional fallback profile for untrusted connections.
type Map struct {
	Rules    []Rule `yaml:"trusted_connections"`
	Fallback string `yaml:"fallback_vpn_uuid,omitempty"`
}

// Resolve returns the VPN profile for the key: first matching rule wins,
// otherwise the fallback. An empty result means no VPN should be active.
func (m *Map) Resolve(k Key) string {
	for _, r := range m.Rules {
		if r.Matches(k) {
			return r.Profile
		}
	}
	return m.Fallback
}
