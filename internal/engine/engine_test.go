package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpn-switcher/internal/netstate"
	"vpn-switcher/internal/trust"
	"vpn-switcher/internal/vpn"
)

type call struct {
	action  string
	profile string
}

// fakeDriver records calls and can fail or block on demand.
type fakeDriver struct {
	mu       sync.Mutex
	calls    []call
	failWith error         // every call fails with this when set
	gate     chan struct{} // when set, the first Activate blocks until closed
	gated    bool
}

func (d *fakeDriver) do(action, profile string) error {
	d.mu.Lock()
	d.calls = append(d.calls, call{action, profile})
	gate := d.gate
	gated := d.gated
	if gate != nil && action == "activate" && !gated {
		d.gated = true
	} else {
		gate = nil
	}
	err := d.failWith
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (d *fakeDriver) Activate(_ context.Context, profile string) error {
	return d.do("activate", profile)
}

func (d *fakeDriver) Deactivate(_ context.Context, profile string) error {
	return d.do("deactivate", profile)
}

func (d *fakeDriver) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

type fakeLoader struct {
	mu  sync.Mutex
	m   *trust.Map
	err error
}

func (l *fakeLoader) Load() (*trust.Map, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.m, nil
}

func (l *fakeLoader) set(m *trust.Map, err error) {
	l.mu.Lock()
	l.m, l.err = m, err
	l.mu.Unlock()
}

type failure struct {
	action   string
	profile  string
	attempts int
}

type fakeNotifier struct {
	mu          sync.Mutex
	activated   []string
	deactivated []string
	failures    []failure
}

func (n *fakeNotifier) VPNActivated(profile, _ string) {
	n.mu.Lock()
	n.activated = append(n.activated, profile)
	n.mu.Unlock()
}

func (n *fakeNotifier) VPNDeactivated(profile string) {
	n.mu.Lock()
	n.deactivated = append(n.deactivated, profile)
	n.mu.Unlock()
}

func (n *fakeNotifier) IntentFailed(action, profile string, _ error, attempts int) {
	n.mu.Lock()
	n.failures = append(n.failures, failure{action, profile, attempts})
	n.mu.Unlock()
}

func homeMap() *trust.Map {
	return &trust.Map{
		Rules:    []trust.Rule{{SSID: "Home", Profile: "vpn-home"}},
		Fallback: "vpn-fallback",
	}
}

func wifi(ssid string, level netstate.Level) netstate.Snapshot {
	return netstate.Snapshot{
		Conn:  &netstate.ConnectionInfo{Kind: netstate.KindWifi, SSID: ssid, Interface: "wlan0"},
		Level: level,
	}
}

func wired(iface string, level netstate.Level) netstate.Snapshot {
	return netstate.Snapshot{
		Conn:  &netstate.ConnectionInfo{Kind: netstate.KindWired, Interface: iface},
		Level: level,
	}
}

type harness struct {
	drv    *fakeDriver
	loader *fakeLoader
	notify *fakeNotifier
	eng    *Engine
	events chan netstate.Snapshot
	done   chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, drv *fakeDriver, loader *fakeLoader) *harness {
	t.Helper()
	notify := &fakeNotifier{}
	eng := New(drv, loader, notify, Options{
		MaxAttempts:   3,
		Backoff:       time.Millisecond,
		IntentTimeout: time.Second,
	})
	events := make(chan netstate.Snapshot, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return &harness{drv: drv, loader: loader, notify: notify, eng: eng, events: events, done: done, cancel: cancel}
}

func (h *harness) waitIdle(t *testing.T, active string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.eng.Status()
		return st.State == StateIdle && st.ActiveVPN == active
	}, 5*time.Second, 2*time.Millisecond)
}

// waitSettled waits until the engine is idle AND has consumed n snapshots.
func (h *harness) waitSettled(t *testing.T, snapshots uint64, active string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := h.eng.Status()
		return st.State == StateIdle && st.Snapshots >= snapshots && st.ActiveVPN == active
	}, 5*time.Second, 2*time.Millisecond)
}

func TestEngine_EndToEndScenario(t *testing.T) {
	drv := &fakeDriver{}
	h := newHarness(t, drv, &fakeLoader{m: homeMap()})

	// trusted wifi with full connectivity
	h.events <- wifi("Home", netstate.LevelFull)
	h.waitIdle(t, "vpn-home")

	// captive portal appears: VPN must come down
	h.events <- wifi("Home", netstate.LevelPortal)
	h.waitIdle(t, "")

	// untrusted cafe wifi with full connectivity: fallback VPN
	h.events <- wifi("Cafe", netstate.LevelFull)
	h.waitIdle(t, "vpn-fallback")

	assert.Equal(t, []call{
		{"activate", "vpn-home"},
		{"deactivate", "vpn-home"},
		{"activate", "vpn-fallback"},
	}, drv.Calls())
}

func TestEngine_DuplicateSnapshotsAreIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	h := newHarness(t, drv, &fakeLoader{m: homeMap()})

	for i := 0; i < 5; i++ {
		h.events <- wifi("Home", netstate.LevelFull)
	}
	h.waitSettled(t, 5, "vpn-home")

	assert.Equal(t, []call{{"activate", "vpn-home"}}, drv.Calls(),
		"repeated identical snapshots must not reissue intents")
}

func TestEngine_NonFullConnectivityDeactivates(t *testing.T) {
	for _, level := range []netstate.Level{netstate.LevelNone, netstate.LevelPortal, netstate.LevelLimited} {
		t.Run(level.String(), func(t *testing.T) {
			drv := &fakeDriver{}
			h := newHarness(t, drv, &fakeLoader{m: homeMap()})

			h.events <- wifi("Home", netstate.LevelFull)
			h.waitIdle(t, "vpn-home")

			h.events <- wifi("Home", level)
			h.waitIdle(t, "")

			assert.Equal(t, []call{
				{"activate", "vpn-home"},
				{"deactivate", "vpn-home"},
			}, drv.Calls(), "exactly one deactivate, no activation below full connectivity")
		})
	}
}

func TestEngine_TrustPrecedence(t *testing.T) {
	m := &trust.Map{
		Rules: []trust.Rule{
			{SSID: "Home", Profile: "A"},
			{Interface: "eth0", Profile: "B"},
		},
		Fallback: "F",
	}

	tests := []struct {
		name string
		snap netstate.Snapshot
		want string
	}{
		{"interface rule", wired("eth0", netstate.LevelFull), "B"},
		{"ssid rule", wifi("Home", netstate.LevelFull), "A"},
		{"fallback", wifi("Guest", netstate.LevelFull), "F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &fakeDriver{}
			h := newHarness(t, drv, &fakeLoader{m: m})

			h.events <- tt.snap
			h.waitIdle(t, tt.want)
			assert.Equal(t, []call{{"activate", tt.want}}, drv.Calls())
		})
	}
}

func TestEngine_FlapContainment(t *testing.T) {
	gate := make(chan struct{})
	drv := &fakeDriver{gate: gate}
	m := &trust.Map{Rules: []trust.Rule{
		{SSID: "Home", Profile: "vpn-home"},
		{SSID: "Office", Profile: "vpn-office"},
	}}
	h := newHarness(t, drv, &fakeLoader{m: m})

	// first snapshot: activate(vpn-home) blocks on the gate
	h.events <- wifi("Home", netstate.LevelFull)
	require.Eventually(t, func() bool {
		return len(drv.Calls()) == 1
	}, 5*time.Second, 2*time.Millisecond)

	// flap while the intent is pending; the engine must only record these
	h.events <- wifi("Office", netstate.LevelFull)
	h.events <- wifi("Home", netstate.LevelFull)

	close(gate)
	h.waitSettled(t, 3, "vpn-home")

	assert.Equal(t, []call{{"activate", "vpn-home"}}, drv.Calls(),
		"intermediate Office state must never produce an intent")
}

func TestEngine_SwitchDeactivatesBeforeActivating(t *testing.T) {
	drv := &fakeDriver{}
	m := &trust.Map{Rules: []trust.Rule{
		{SSID: "Home", Profile: "vpn-home"},
		{SSID: "Office", Profile: "vpn-office"},
	}}
	h := newHarness(t, drv, &fakeLoader{m: m})

	h.events <- wifi("Home", netstate.LevelFull)
	h.waitIdle(t, "vpn-home")
	h.events <- wifi("Office", netstate.LevelFull)
	h.waitIdle(t, "vpn-office")

	assert.Equal(t, []call{
		{"activate", "vpn-home"},
		{"deactivate", "vpn-home"},
		{"activate", "vpn-office"},
	}, drv.Calls(), "old profile must come down strictly before the new one goes up")
}

func TestEngine_RetryBound(t *testing.T) {
	drv := &fakeDriver{failWith: vpn.ErrTimeout}
	h := newHarness(t, drv, &fakeLoader{m: homeMap()})

	h.events <- wifi("Home", netstate.LevelFull)
	h.waitSettled(t, 1, "")

	calls := drv.Calls()
	assert.Len(t, calls, 3, "exactly MaxAttempts attempts")
	for _, c := range calls {
		assert.Equal(t, call{"activate", "vpn-home"}, c)
	}

	h.notify.mu.Lock()
	defer h.notify.mu.Unlock()
	assert.Equal(t, []failure{{"activate", "vpn-home", 3}}, h.notify.failures)
	assert.Empty(t, h.notify.activated)
}

func TestEngine_ShutdownWaitsForInFlightIntent(t *testing.T) {
	gate := make(chan struct{})
	drv := &fakeDriver{gate: gate}
	notify := &fakeNotifier{}
	eng := New(drv, &fakeLoader{m: homeMap()}, notify, Options{
		MaxAttempts:   1,
		Backoff:       time.Millisecond,
		IntentTimeout: time.Second,
	})
	events := make(chan netstate.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()

	events <- wifi("Home", netstate.LevelFull)
	require.Eventually(t, func() bool {
		return len(drv.Calls()) == 1
	}, 5*time.Second, 2*time.Millisecond)

	// shutdown arrives while the activation is still with the manager
	cancel()
	select {
	case <-done:
		t.Fatal("run returned while an intent was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// the manager finally confirms; the intent completes and is tracked
	close(gate)
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the intent completed")
	}

	notify.mu.Lock()
	defer notify.mu.Unlock()
	assert.Equal(t, []string{"vpn-home"}, notify.activated,
		"an activation confirmed during shutdown must still be tracked")
	assert.Empty(t, notify.failures)
}

func TestEngine_NonRecoverableErrorFailsFast(t *testing.T) {
	drv := &fakeDriver{failWith: errors.New("settings file corrupt")}
	h := newHarness(t, drv, &fakeLoader{m: homeMap()})

	h.events <- wifi("Home", netstate.LevelFull)
	h.waitSettled(t, 1, "")

	assert.Len(t, drv.Calls(), 1, "errors outside the transient taxonomy must not be retried")

	h.notify.mu.Lock()
	defer h.notify.mu.Unlock()
	assert.Equal(t, []failure{{"activate", "vpn-home", 1}}, h.notify.failures)
}

func TestEngine_UnreadableMapKeepsLastGood(t *testing.T) {
	drv := &fakeDriver{}
	h := newHarness(t, drv, &fakeLoader{m: homeMap()})

	h.events <- wifi("Home", netstate.LevelFull)
	h.waitIdle(t, "vpn-home")

	// map becomes unreadable; the last good map keeps serving
	h.loader.set(nil, trust.ErrUnreadable)
	h.events <- wifi("Cafe", netstate.LevelFull)
	h.waitIdle(t, "vpn-fallback")
}

func TestEngine_NoMapEverLoadedNeverActivates(t *testing.T) {
	drv := &fakeDriver{}
	h := newHarness(t, drv, &fakeLoader{err: trust.ErrUnreadable})

	h.events <- wifi("Home", netstate.LevelFull)
	h.waitSettled(t, 1, "")

	assert.Empty(t, drv.Calls(), "no trust map, no VPN")
}

func TestEngine_Reconcile(t *testing.T) {
	drv := &fakeDriver{}
	notify := &fakeNotifier{}
	eng := New(drv, &fakeLoader{m: homeMap()}, notify, Options{
		MaxAttempts:   1,
		Backoff:       time.Millisecond,
		IntentTimeout: time.Second,
	})
	eng.Reconcile(context.Background(), reconcilerFunc(func(context.Context) (string, error) {
		return "vpn-home", nil
	}))

	events := make(chan netstate.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()

	// the reconciled VPN matches the desired one: no intent at all
	events <- wifi("Home", netstate.LevelFull)
	require.Eventually(t, func() bool {
		st := eng.Status()
		return st.State == StateIdle && st.Snapshots == 1
	}, 5*time.Second, 2*time.Millisecond)

	assert.Empty(t, drv.Calls())
	assert.Equal(t, "vpn-home", eng.Status().ActiveVPN)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}

type reconcilerFunc func(ctx context.Context) (string, error)

func (f reconcilerFunc) ActiveVPNProfile(ctx context.Context) (string, error) { return f(ctx) }
