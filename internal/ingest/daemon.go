package ingest

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/skycommit/skycommit/internal/config"
	"github.com/skycommit/skycommit/internal/models"
)

// Daemon is the single-threaded periodic loop: fetch both feeds, write
// snapshot files, upload them, prune old local copies, sleep out the rest
// of the interval.
type Daemon struct {
	cfg          *config.DaemonConfig
	observations *ObservationFeed
	forecasts    *ForecastFeed
	uploader     *Uploader
	clock        clockwork.Clock
}

func NewDaemon(cfg *config.DaemonConfig) *Daemon {
	return NewDaemonWithClock(cfg, clockwork.NewRealClock())
}

func NewDaemonWithClock(cfg *config.DaemonConfig, clock clockwork.Clock) *Daemon {
	return &Daemon{
		cfg:          cfg,
		observations: NewObservationFeed(cfg.ObservationsEndpoint),
		forecasts:    NewForecastFeed(cfg.ForecastsEndpoint),
		uploader:     NewUploader(cfg.BaseURL),
		clock:        clock,
	}
}

// Run executes cycles until the context is cancelled. The loop is
// interruptible at the sleep boundary and between sources; a failed cycle
// is logged and deferred to the next one.
func (d *Daemon) Run(ctx context.Context) {
	interval := time.Duration(d.cfg.SleepIntervalSeconds) * time.Second
	for {
		started := d.clock.Now()
		if err := d.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("daemon: cycle failed: %v", err)
		}

		sleep := interval - d.clock.Since(started)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			log.Println("daemon: shutting down")
			return
		case <-d.clock.After(sleep):
		}
	}
}

// RunOnce performs a single fetch/write/upload cycle for both sources.
// Each source fails independently.
func (d *Daemon) RunOnce(ctx context.Context) error {
	generatedAt := d.clock.Now().UTC().Truncate(time.Second)

	var firstErr error
	if err := d.cycleObservations(ctx, generatedAt); err != nil {
		log.Printf("daemon: observations: %v", err)
		firstErr = err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := d.cycleForecasts(ctx, generatedAt); err != nil {
		log.Printf("daemon: forecasts: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if removed, err := PruneLocal(d.cfg.DataDir, d.cfg.RetentionDays, d.clock.Now()); err != nil {
		log.Printf("daemon: prune: %v", err)
	} else if removed > 0 {
		log.Printf("daemon: pruned %d expired local snapshots", removed)
	}
	return firstErr
}

func (d *Daemon) cycleObservations(ctx context.Context, generatedAt time.Time) error {
	rows, err := d.observations.Fetch(ctx, generatedAt)
	if err != nil {
		return err
	}
	log.Printf("daemon: fetched %d observation rows", len(rows))

	path, err := WriteSnapshot(d.cfg.DataDir, models.KindObservations, generatedAt, rows)
	if err != nil {
		return err
	}
	return d.uploader.Upload(ctx, path)
}

func (d *Daemon) cycleForecasts(ctx context.Context, generatedAt time.Time) error {
	rows, err := d.forecasts.Fetch(ctx, generatedAt)
	if err != nil {
		return err
	}
	log.Printf("daemon: fetched %d forecast rows", len(rows))

	path, err := WriteSnapshot(d.cfg.DataDir, models.KindForecasts, generatedAt, rows)
	if err != nil {
		return err
	}
	return d.uploader.Upload(ctx, path)
}
