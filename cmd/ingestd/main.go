package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/skycommit/skycommit/internal/config"
	"github.com/skycommit/skycommit/internal/ingest"
)

func main() {
	baseURL := flag.String("base-url", "", "oracle endpoint (overrides config)")
	dataDir := flag.String("data-dir", "", "local snapshot directory (overrides config)")
	sleepInterval := flag.Int("sleep-interval", 0, "seconds between cycles (overrides config)")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	overrides := map[string]any{}
	if *baseURL != "" {
		overrides["base_url"] = *baseURL
	}
	if *dataDir != "" {
		overrides["data_dir"] = *dataDir
	}
	if *sleepInterval != 0 {
		overrides["sleep_interval"] = *sleepInterval
	}

	cfg, err := config.LoadDaemon(overrides)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	daemon := ingest.NewDaemon(cfg)

	if *once {
		log.Println("running single ingestion cycle")
		if err := daemon.RunOnce(ctx); err != nil {
			log.Fatalf("ingest: %v", err)
		}
		log.Println("done")
		return
	}

	log.Printf("daemon: polling every %ds, uploading to %s", cfg.SleepIntervalSeconds, cfg.BaseURL)
	daemon.Run(ctx)
}
