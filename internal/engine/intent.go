package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/journal"
	"vpn-switcher/internal/observability"
	"vpn-switcher/internal/vpn"
)

const (
	actionActivate   = "activate"
	actionDeactivate = "deactivate"
)

// transition moves the active VPN to the target profile. The previous
// profile is deactivated strictly before the new one is activated, so two
// VPN profiles are never up at once. Tracking is updated only on confirmed
// success of each step.
func (e *Engine) transition(ctx context.Context, to, trigger string) bool {
	if prev := e.active; prev != "" {
		if !e.attempt(ctx, actionDeactivate, prev) {
			return false
		}
		e.active = ""
		observability.ActiveVPN.Set(0)
		e.notify.VPNDeactivated(prev)
		e.record(journal.EventDeactivated, prev, "")
	}

	if to == "" {
		return true
	}

	if !e.attempt(ctx, actionActivate, to) {
		return false
	}
	e.active = to
	observability.ActiveVPN.Set(1)
	e.notify.VPNActivated(to, trigger)
	e.record(journal.EventActivated, to, trigger)
	return true
}

// attempt runs one intent to completion: up to MaxAttempts tries with
// jittered backoff, each bounded by the intent timeout. The per-operation
// context is detached from ctx so shutdown never kills an intent mid-
// flight; ctx only stops further retries.
func (e *Engine) attempt(ctx context.Context, action, profile string) bool {
	e.intents++

	var lastErr error
	for n := 1; n <= e.opts.MaxAttempts; n++ {
		opCtx, cancel := context.WithTimeout(context.Background(), e.opts.IntentTimeout)
		var err error
		if action == actionActivate {
			err = e.drv.Activate(opCtx, profile)
		} else {
			err = e.drv.Deactivate(opCtx, profile)
		}
		cancel()

		if err == nil {
			observability.IntentsTotal.WithLabelValues(action, "success").Inc()
			log.Info().Str("action", action).Str("profile", profile).Int("attempt", n).Msg("intent succeeded")
			return true
		}
		lastErr = err
		log.Warn().Err(err).Str("action", action).Str("profile", profile).
			Int("attempt", n).Int("max_attempts", e.opts.MaxAttempts).Msg("intent attempt failed")

		// Retrying only makes sense for the known-transient taxonomy;
		// anything else fails the intent on the spot.
		if !vpn.Recoverable(err) {
			observability.IntentsTotal.WithLabelValues(action, "failure").Inc()
			e.notify.IntentFailed(action, profile, lastErr, n)
			e.record(journal.EventFailure, profile, action+": "+lastErr.Error())
			return false
		}
		if ctx.Err() != nil {
			observability.IntentsTotal.WithLabelValues(action, "aborted").Inc()
			return false
		}
		if n < e.opts.MaxAttempts {
			observability.IntentRetries.Inc()
			if !sleep(ctx, jitter(e.opts.Backoff*time.Duration(n))) {
				observability.IntentsTotal.WithLabelValues(action, "aborted").Inc()
				return false
			}
		}
	}

	observability.IntentsTotal.WithLabelValues(action, "failure").Inc()
	e.notify.IntentFailed(action, profile, lastErr, e.opts.MaxAttempts)
	e.record(journal.EventFailure, profile, action+": "+lastErr.Error())
	return false
}

func (e *Engine) record(event, profile, detail string) {
	if e.rec == nil {
		return
	}
	if err := e.rec.Record(event, profile, detail); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("journal write failed")
	}
}

// sleep waits for d or until ctx is cancelled; reports whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x–1.5x
	return time.Duration(float64(base) * factor)
}
