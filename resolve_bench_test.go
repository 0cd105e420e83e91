package tests

import (
	"fmt"
	"testing"

	"vpn-switcher/internal/trust"
)

func BenchmarkResolve(b *testing.B) {
	m := &trust.Map{Fallback: "vpn-fallback"}
	for i := 0; i < 200; i++ {
		m.Rules = append(m.Rules, trust.Rule{SSID: fmt.Sprintf("net-%d", i), Profile: fmt.Sprintf("vpn-%d", i)})
	}
	key := trust.SSIDKey("net-199") // worst case: last rule
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Resolve(key)
	}
}
