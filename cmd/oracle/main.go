package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/skycommit/skycommit/internal/api"
	"github.com/skycommit/skycommit/internal/config"
	"github.com/skycommit/skycommit/internal/dlc"
	"github.com/skycommit/skycommit/internal/metrics"
	"github.com/skycommit/skycommit/internal/oracle"
	"github.com/skycommit/skycommit/internal/snapshot"
	"github.com/skycommit/skycommit/internal/store"
)

func main() {
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	dataDir := flag.String("data-dir", "", "snapshot directory (overrides config)")
	eventDB := flag.String("event-db", "", "path to the event database (overrides config)")
	keyPath := flag.String("private-key-path", "", "path to the signing key PEM (overrides config)")
	retention := flag.Int("snapshot-retention-days", 0, "snapshot retention horizon (overrides config)")
	flag.Parse()

	overrides := map[string]any{}
	if *host != "" {
		overrides["host"] = *host
	}
	if *port != 0 {
		overrides["port"] = *port
	}
	if *dataDir != "" {
		overrides["data_dir"] = *dataDir
	}
	if *eventDB != "" {
		overrides["event_db"] = *eventDB
	}
	if *keyPath != "" {
		overrides["private_key_path"] = *keyPath
	}
	if *retention != 0 {
		overrides["snapshot_retention_days"] = *retention
	}

	cfg, err := config.LoadOracle(overrides)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	priv, err := dlc.LoadOrCreateKey(cfg.PrivateKeyPath)
	if err != nil {
		log.Fatalf("load signing key: %v", err)
	}

	st, err := store.Open(cfg.EventDB)
	if err != nil {
		log.Fatalf("open event database: %v", err)
	}
	defer st.Close()

	snapshots, err := snapshot.New(cfg.DataDir, cfg.SnapshotRetentionDays)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := oracle.New(ctx, st, snapshots, priv)
	if err != nil {
		log.Fatalf("initialize oracle: %v", err)
	}

	jobs := cron.New()
	jobs.AddFunc("@every 5m", func() {
		engine.RefreshActiveEvents(ctx)
	})
	jobs.AddFunc("@hourly", func() {
		removed, err := snapshots.Sweep(time.Now().UTC())
		if err != nil {
			log.Printf("sweeper: %v", err)
			return
		}
		if removed > 0 {
			metrics.SnapshotsSwept.Add(float64(removed))
			log.Printf("sweeper: removed %d expired snapshots", removed)
		}
	})
	jobs.Start()
	defer jobs.Stop()

	server := api.NewServer(engine, snapshots, st, cfg.Addr())
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
