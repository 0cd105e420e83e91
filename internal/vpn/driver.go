// Package vpn defines the driver boundary for VPN activation commands.
package vpn

import (
	"context"
	"errors"
)

// Sentinel errors for VPN operations. All three are recoverable: the engine
// retries with bounded backoff and demotes exhaustion to a reported,
// non-fatal condition.
var (
	ErrTimeout            = errors.New("vpn operation timed out")
	ErrRejected           = errors.New("vpn operation rejected")
	ErrManagerUnavailable = errors.New("network manager unavailable")
)

// Driver executes activate/deactivate intents against the external network
// manager. Both calls are idempotent at this boundary: activating an
// already-active profile or deactivating an inactive one succeeds, and both
// suspend the caller until the manager confirms or ctx expires.
type Driver interface {
	Activate(ctx context.Context, profile string) error
	Deactivate(ctx context.Context, profile string) error
}

// Recoverable reports whether err belongs to the retryable taxonomy.
func Recoverable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrManagerUnavailable)
}
