package engine

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Engine states. Pending means an intent is outstanding.
const (
	StateIdle    = "idle"
	StatePending = "pending"
)

// Status is the engine's externally visible state, published atomically for
// the status API.
type Status struct {
	State      string    `json:"state"`
	ActiveVPN  string    `json:"active_vpn,omitempty"`
	Level      string    `json:"level"`
	Connection string    `json:"connection,omitempty"`
	Snapshots  uint64    `json:"snapshots_seen"`
	Intents    uint64    `json:"intents_issued"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e *Engine) publish(state string) {
	st := Status{
		State:     state,
		ActiveVPN: e.active,
		Level:     "none",
		Snapshots: e.snapshots,
		Intents:   e.intents,
		UpdatedAt: time.Now().UTC(),
	}
	if e.latest != nil {
		st.Level = e.latest.Level.String()
		if e.latest.Conn != nil {
			st.Connection = e.latest.Conn.Interface
		}
	}
	e.status.Store(st)
}

// LogNotifier is the default operator-facing layer: structured log events
// for every transition.
type LogNotifier struct{}

func (LogNotifier) VPNActivated(profile, trigger string) {
	log.Info().Str("profile", profile).Str("trigger", trigger).Msg("vpn activated")
}

func (LogNotifier) VPNDeactivated(profile string) {
	log.Info().Str("profile", profile).Msg("vpn deactivated")
}

func (LogNotifier) IntentFailed(action, profile string, err error, attempts int) {
	log.Error().Err(err).Str("action", action).Str("profile", profile).
		Int("attempts", attempts).Msg("vpn intent failed persistently")
}
