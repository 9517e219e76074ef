package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/aevon-lab/meterflow/internal/aggregation"
	"github.com/aevon-lab/meterflow/internal/collection"
	corecfg "github.com/aevon-lab/meterflow/internal/core/config"
	"github.com/aevon-lab/meterflow/internal/core/meter"
	"github.com/aevon-lab/meterflow/internal/core/storage"
	"github.com/aevon-lab/meterflow/internal/core/storage/influx"
	"github.com/aevon-lab/meterflow/internal/core/storage/postgres"
	"github.com/aevon-lab/meterflow/internal/device/modbus"
	"github.com/aevon-lab/meterflow/internal/migrations"
	"github.com/aevon-lab/meterflow/internal/server"
	"github.com/aevon-lab/meterflow/internal/worker"
)

func main() {
	configPath := flag.String("config", "meterflow.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger (default until config is known)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("Loaded config", "collection", cfg.Collection, "worker", cfg.Worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.Prepare(); err != nil {
		slog.Error("Failed to prepare statements", "error", err)
		os.Exit(1)
	}
	dbAdapter.SetMaxBatchInsert(cfg.Collection.MaxBatchInsert)

	// 2.2. Optional InfluxDB mirror
	var store storage.ReadingStore = dbAdapter
	if cfg.Influx.Enabled {
		mirror, err := influx.NewMirror(ctx, influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			slog.Error("Failed to initialize influx mirror", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		store = storage.NewTee(dbAdapter, mirror)
	}

	// 3. Register profiles
	profiles, err := meter.NewProfileRepository(cfg.Collection.ProfilesDir)
	if err != nil {
		slog.Error("Failed to load register profiles", "dir", cfg.Collection.ProfilesDir, "error", err)
		os.Exit(1)
	}
	for _, p := range profiles.Profiles() {
		slog.Info("Loaded register profile", "meter_type", p.Type, "registers", len(p.Registers), "fingerprint", p.Fingerprint)
	}

	// 4. Worker pool
	pool := worker.NewPool(modbus.NewReader(), worker.PoolConfig{
		Lanes:           cfg.Worker.Lanes,
		QueueSize:       cfg.Worker.QueueSize,
		RetryAttempts:   cfg.Collection.RetryAttempts,
		RetryBackoff:    cfg.Worker.RetryBackoff,
		BreakerFailures: cfg.Worker.BreakerFailures,
		BreakerCooldown: cfg.Worker.BreakerCooldown,
	})
	pool.Start()
	defer pool.Stop()

	// 5. Collection scheduler
	collectionCfg := collectionConfig(cfg.Collection)
	scheduler := collection.NewSchedulerWithProfiles(collectionCfg, dbAdapter, pool, store, profiles)

	// 6. Aggregation planner: warn about registers with no backing column.
	planner := aggregation.NewPlanner(dbAdapter.DB())
	checkRegisterColumns(ctx, planner, collectionCfg.Registers)

	// 7. Initialize Server
	var controller server.CollectionController
	if cfg.Collection.Enabled {
		controller = scheduler
	}
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), controller, cfg.Server.Mode)

	// 8. Start Services
	if cfg.Collection.Enabled {
		if err := scheduler.Start(); err != nil {
			slog.Error("Failed to start collection scheduler", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("Collection scheduler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	if cfg.Server.Enabled {
		// HTTP server blocks until ctx is cancelled.
		if err := srv.Run(ctx); err != nil {
			slog.Error("Server stopped with error", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	scheduler.Stop()
	scheduler.Wait()
	slog.Info("Shutdown complete")
}

func collectionConfig(c corecfg.CollectionConfig) collection.Config {
	priority := worker.PriorityNormal
	if c.Priority == "high" {
		priority = worker.PriorityHigh
	}
	registers := c.Registers
	if len(registers) == 0 {
		registers = collection.DefaultRegisters()
	}
	return collection.Config{
		Enabled:          c.Enabled,
		Interval:         c.Interval,
		BatchSize:        c.BatchSize,
		Timeout:          c.Timeout,
		DefaultIP:        c.DefaultIP,
		DefaultPort:      c.DefaultPort,
		DefaultUnitID:    c.DefaultUnitID,
		Registers:        registers,
		BatchInsert:      c.BatchInsert,
		LogSuccess:       c.LogSuccess,
		LogFailures:      c.LogFailures,
		StatsLogInterval: c.StatsLogInterval,
		InitialDelay:     c.InitialDelay,
		BatchPause:       c.BatchPause,
		Priority:         priority,
	}
}

func checkRegisterColumns(ctx context.Context, planner *aggregation.Planner, registers meter.RegisterMap) {
	names := make([]string, 0, len(registers))
	for name := range registers {
		names = append(names, name)
	}
	sort.Strings(names)

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	check, err := planner.ValidateColumns(checkCtx, names)
	if err != nil {
		slog.Warn("Register column check failed", "error", err)
		return
	}
	if len(check.Invalid) > 0 {
		slog.Warn("Registers without a meter_readings column are collected but not aggregatable", "registers", check.Invalid)
	}
}

func newLogger(c corecfg.LogConfig) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
