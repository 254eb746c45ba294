package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/mkurosawa/thisorthat/internal/config"
	"github.com/mkurosawa/thisorthat/internal/scheduler"
	"github.com/mkurosawa/thisorthat/internal/store"
	"github.com/mkurosawa/thisorthat/pkg/booru"
	"github.com/mkurosawa/thisorthat/pkg/cache"
	"github.com/mkurosawa/thisorthat/pkg/recommend"
	"github.com/mkurosawa/thisorthat/pkg/server"
	"github.com/mkurosawa/thisorthat/pkg/session"
	"github.com/mkurosawa/thisorthat/pkg/tagstats"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildScheduler(cfg *config.Config, db store.Store) *scheduler.Scheduler {
	client := booru.NewClient(cfg.Source.BaseURL, cfg.Source.PageSize)
	replenisher := cache.New(db, client, cfg.Cache.MaxImages, cfg.Source.ParsePageDelay())
	aggregator := tagstats.New(db, cfg.Aggregate.IgnoreTags)
	return scheduler.New(replenisher, aggregator, cfg.Schedule.ParseRefreshInterval())
}

func runReplenish() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sched := buildScheduler(cfg, db)
	sched.RunOnce(context.Background())

	count, err := db.CountImages(context.Background())
	if err != nil {
		return fmt.Errorf("count images: %w", err)
	}
	fmt.Fprintf(os.Stderr, "cache holds %d images\n", count)
	return nil
}

func runStats(jsonOutput bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	stats, err := db.ListTagStats(context.Background())
	if err != nil {
		return fmt.Errorf("list tag stats: %w", err)
	}
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	if len(stats) == 0 {
		fmt.Println("no tag statistics yet (try filling the cache first: thisorthat replenish)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tCOUNT\tSCORE\tSHARED TAGS")
	for _, ts := range stats {
		shared := ""
		for i, t := range ts.SharedTags {
			if i > 0 {
				shared += ", "
			}
			shared += t
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", ts.Tag, ts.Count, ts.Score, shared)
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sched := buildScheduler(cfg, db)
	srv := server.New(db, recommend.New(db), session.New(db), sched, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := buildScheduler(cfg, db)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(db, recommend.New(db), session.New(db), sched, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}
