// Package engine implements the connectivity-state VPN selection loop: it
// consumes normalized connectivity snapshots, resolves the active connection
// through the trust map, and drives VPN activation so that exactly the
// right profile (or none) is up for the current network.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/cache"
	"vpn-switcher/internal/netstate"
	"vpn-switcher/internal/observability"
	"vpn-switcher/internal/trust"
	"vpn-switcher/internal/vpn"
)

// Loader supplies the current trust map, re-read on every decision cycle.
type Loader interface {
	Load() (*trust.Map, error)
}

// Notifier is the operator-facing layer for transition events.
type Notifier interface {
	VPNActivated(profile, trigger string)
	VPNDeactivated(profile string)
	IntentFailed(action, profile string, err error, attempts int)
}

// Recorder persists transitions; may be nil.
type Recorder interface {
	Record(event, profile, detail string) error
}

// Reconciler answers the one startup question the engine cannot: which VPN
// is actually active right now.
type Reconciler interface {
	ActiveVPNProfile(ctx context.Context) (string, error)
}

// Options bound the engine's retry behavior.
type Options struct {
	MaxAttempts   int
	Backoff       time.Duration
	IntentTimeout time.Duration
	Recorder      Recorder
}

// Engine is the decision state machine. All fields below the constructor
// args are owned exclusively by the Run goroutine; the tracked active VPN
// is never re-queried from the manager between cycles.
type Engine struct {
	drv    vpn.Driver
	rules  Loader
	notify Notifier
	rec    Recorder
	opts   Options

	active  string             // last confirmed active profile, "" = none
	latest  *netstate.Snapshot // newest snapshot seen, acted on or not
	lastMap *trust.Map         // last successfully loaded trust map

	snapshots uint64
	intents   uint64
	status    cache.Snapshot[Status]
}

func New(drv vpn.Driver, rules Loader, notify Notifier, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.IntentTimeout <= 0 {
		opts.IntentTimeout = 30 * time.Second
	}
	return &Engine{
		drv:    drv,
		rules:  rules,
		notify: notify,
		rec:    opts.Recorder,
		opts:   opts,
	}
}

// Reconcile seeds the tracked active VPN from the manager's actual state,
// once, before the first decision cycle. Without it a daemon restart under
// an already-active VPN would believe no VPN is up.
func (e *Engine) Reconcile(ctx context.Context, r Reconciler) {
	profile, err := r.ActiveVPNProfile(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("startup reconciliation failed; assuming no VPN active")
		return
	}
	e.active = profile
	if profile != "" {
		log.Info().Str("profile", profile).Msg("reconciled already-active VPN")
		observability.ActiveVPN.Set(1)
	}
	e.publish(StateIdle)
}

// Run consumes snapshots until ctx is cancelled or the stream closes. The
// loop itself is the Idle/Pending gate: while an intent executes, arriving
// snapshots buffer in the channel; when it resolves they are drained down
// to the newest one and the engine re-evaluates. At most one intent is ever
// in flight.
func (e *Engine) Run(ctx context.Context, events <-chan netstate.Snapshot) error {
	e.publish(StateIdle)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-events:
			if !ok {
				return nil
			}
			e.observe(s)
			e.drain(events)

			start := time.Now()
			e.settle(ctx, events)
			observability.DecisionDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (e *Engine) observe(s netstate.Snapshot) {
	e.latest = &s
	e.snapshots++
	observability.SnapshotsTotal.Inc()
}

// drain discards buffered snapshots, keeping only the newest: states the
// host flapped through while an intent was pending are never acted on.
func (e *Engine) drain(events <-chan netstate.Snapshot) {
	for {
		select {
		case s, ok := <-events:
			if !ok {
				return
			}
			e.observe(s)
		default:
			return
		}
	}
}

// settle issues intents until the tracked VPN matches the desired target
// for the newest snapshot, then returns to idle. A persistently failing
// intent returns the engine to idle with tracking left at its last
// confirmed value; the next snapshot re-evaluates.
func (e *Engine) settle(ctx context.Context, events <-chan netstate.Snapshot) {
	for ctx.Err() == nil {
		desired, trigger := e.desired()
		if desired == e.active {
			e.publish(StateIdle)
			return
		}

		e.publish(StatePending)
		ok := e.transition(ctx, desired, trigger)
		e.drain(events)

		if !ok {
			if next, _ := e.desired(); next == desired {
				e.publish(StateIdle)
				return
			}
		}
	}
}

// desired derives the target profile purely from the latest snapshot and
// the trust map; nothing is remembered across unrelated connection changes.
// Empty means no VPN should be active.
func (e *Engine) desired() (profile, trigger string) {
	s := e.latest
	if s == nil || s.Conn == nil {
		return "", ""
	}
	// Never bring up (or keep) a VPN before full internet access is
	// confirmed; captive portals and limited links stay VPN-free.
	if s.Level != netstate.LevelFull {
		return "", ""
	}

	m := e.loadMap()
	if m == nil {
		return "", ""
	}
	key := netstate.Classify(*s.Conn)
	return m.Resolve(key), key.String()
}

// loadMap re-reads the trust map each cycle so edits apply without a
// restart. An unreadable map is recoverable: the last good map keeps
// serving. If no map has ever loaded, no VPN is ever activated.
func (e *Engine) loadMap() *trust.Map {
	m, err := e.rules.Load()
	if err != nil {
		if e.lastMap != nil {
			log.Warn().Err(err).Msg("trust map unreadable; using last good map")
			return e.lastMap
		}
		log.Warn().Err(err).Msg("trust map unreadable and no map ever loaded; VPN activation withheld")
		return nil
	}
	e.lastMap = m
	return m
}

// Status returns the last published engine status.
func (e *Engine) Status() Status {
	s, _ := e.status.Load()
	return s
}
