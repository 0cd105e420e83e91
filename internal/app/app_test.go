package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vpn-switcher/internal/netstate"
)

func TestAwaitLoops_NilResultDoesNotMaskFailure(t *testing.T) {
	// When the signal stream is lost, the engine's event channel closes
	// before the observer reports why; the engine's nil result can reach
	// the channel first. The fatal error behind it must still surface.
	errCh := make(chan error, 2)
	errCh <- nil
	errCh <- fmt.Errorf("%w: state stream closed", netstate.ErrUnavailable)

	err := awaitLoops(context.Background(), errCh, 2, nil)
	assert.True(t, errors.Is(err, netstate.ErrUnavailable))
}

func TestAwaitLoops_KeepsFirstFailure(t *testing.T) {
	first := errors.New("first failure")
	errCh := make(chan error, 2)
	errCh <- errors.New("second failure")

	err := awaitLoops(context.Background(), errCh, 1, first)
	assert.Equal(t, first, err)
}

func TestAwaitLoops_CancelledLoopsAreClean(t *testing.T) {
	errCh := make(chan error, 2)
	errCh <- context.Canceled
	errCh <- nil

	assert.NoError(t, awaitLoops(context.Background(), errCh, 2, nil))
}

func TestAwaitLoops_DeadlineReturnsWhatWeHave(t *testing.T) {
	errCh := make(chan error, 2)
	errCh <- nil // second loop never reports

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, awaitLoops(ctx, errCh, 2, nil))
}
