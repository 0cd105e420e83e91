package netstate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Provider is the transport-specific subscription to the network manager's
// state changes. Exactly one subscription is active for the daemon's
// lifetime.
type Provider interface {
	// Subscribe starts delivering raw snapshots, one per reported change.
	// The returned channel is closed when the stream ends.
	Subscribe(ctx context.Context) (<-chan Snapshot, error)
	Close() error
}

// Observer filters the provider's raw stream down to meaningful changes:
// snapshots where neither the connection identity nor the connectivity
// level moved are dropped, so notification noise never churns the engine.
type Observer struct {
	events chan Snapshot
}

func NewObserver(buffer int) *Observer {
	if buffer <= 0 {
		buffer = 64
	}
	return &Observer{events: make(chan Snapshot, buffer)}
}

// Events is the filtered stream the engine consumes. Closed when Run
// returns.
func (o *Observer) Events() <-chan Snapshot {
	return o.events
}

// Run subscribes to the provider and forwards de-duplicated snapshots until
// the context is cancelled. A subscription failure or a lost stream returns
// an error wrapping ErrUnavailable.
func (o *Observer) Run(ctx context.Context, p Provider) error {
	defer close(o.events)

	raw, err := p.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Info().Msg("subscribed to network state changes")

	var last *Snapshot
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-raw:
			if !ok {
				return fmt.Errorf("%w: state stream closed", ErrUnavailable)
			}
			if last != nil && s.Equal(*last) {
				log.Debug().Stringer("level", s.Level).Msg("unchanged snapshot dropped")
				continue
			}
			cp := s
			last = &cp
			select {
			case o.events <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
