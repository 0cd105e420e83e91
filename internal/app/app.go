// Package app wires the daemon together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"

	"vpn-switcher/internal/api"
	"vpn-switcher/internal/config"
	"vpn-switcher/internal/engine"
	"vpn-switcher/internal/journal"
	"vpn-switcher/internal/netstate"
	"vpn-switcher/internal/nm"
	"vpn-switcher/internal/trust"
)

// Run starts the daemon and blocks until a termination signal or a fatal
// connectivity-provider failure. Any in-flight intent is allowed to finish
// or time out before Run returns.
func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := nm.Connect(cfg.SettleDelay(), cfg.IntentTimeout())
	if err != nil {
		return errors.Join(netstate.ErrUnavailable, err)
	}
	defer client.Close()

	store := trust.NewStore(cfg.Trust.Path)

	// The journal is best-effort: the engine runs without one.
	var rec engine.Recorder
	var recent api.RecentFunc
	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("journal unavailable")
	} else {
		defer jrnl.Close()
		if err := jrnl.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("journal cleanup failed")
		}
		rec = jrnl
		recent = func(limit int) (any, error) { return jrnl.Recent(limit) }
	}

	eng := engine.New(client, store, engine.LogNotifier{}, engine.Options{
		MaxAttempts:   cfg.Engine.RetryAttempts,
		Backoff:       cfg.RetryBackoff(),
		IntentTimeout: cfg.IntentTimeout(),
		Recorder:      rec,
	})
	eng.Reconcile(rootCtx, client)

	obs := netstate.NewObserver(cfg.Network.EventBuffer)

	errCh := make(chan error, 2)
	go func() { errCh <- obs.Run(rootCtx, client) }()
	go func() { errCh <- eng.Run(rootCtx, obs.Events()) }()

	h := api.NewHandler(eng, store, recent)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("status api starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status api crashed")
		}
	}()

	notifySystemd(rootCtx, cfg.WatchdogInterval())

	var runErr error
	done := 0
	select {
	case <-signalCh():
		log.Info().Msg("shutdown...")
	case err := <-errCh:
		done++
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			log.Error().Err(err).Msg("background loop failed")
		}
	}

	// Stop the loops; an in-flight intent still runs to completion because
	// its own timeout context is detached from rootCtx.
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.IntentTimeout()+5*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	return awaitLoops(shCtx, errCh, cap(errCh)-done, runErr)
}

// awaitLoops collects the remaining background loop results, keeping the
// first real failure. The observer closes the engine's event stream before
// reporting why it died, so the engine's nil result can arrive first; a nil
// must never mask the failure still in flight on the channel.
func awaitLoops(ctx context.Context, errCh <-chan error, pending int, runErr error) error {
	for i := 0; i < pending; i++ {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("background loop failed")
				if runErr == nil {
					runErr = err
				}
			}
		case <-ctx.Done():
			return runErr
		}
	}
	return runErr
}

func signalCh() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}

// notifySystemd reports readiness and keeps the watchdog fed when running
// under systemd; both are no-ops elsewhere.
func notifySystemd(ctx context.Context, interval time.Duration) {
	if ok, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("systemd notify failed")
	} else if ok {
		log.Debug().Msg("systemd readiness reported")
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
			}
		}
	}()
}
