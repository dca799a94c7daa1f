// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for orchd, the combined scan-orchestrator
// daemon: the admission HTTP surface, the worker loop, and the housekeeping
// sweep running in one process, wired via cobra/viper in the teacher's
// cmd/server pattern.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eafonin/nessus-orchestrator/internal/admission"
	"github.com/eafonin/nessus-orchestrator/internal/breaker"
	"github.com/eafonin/nessus-orchestrator/internal/config"
	"github.com/eafonin/nessus-orchestrator/internal/housekeeping"
	"github.com/eafonin/nessus-orchestrator/internal/httpapi"
	"github.com/eafonin/nessus-orchestrator/internal/idempotency"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/metrics"
	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/query"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/scanner"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
	"github.com/eafonin/nessus-orchestrator/internal/validator"
	"github.com/eafonin/nessus-orchestrator/internal/worker"
)

const metricsRefreshInterval = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "orchd",
	Short: "Nessus-class scan orchestration daemon",
	Long:  `Admits, queues, dispatches, and validates vulnerability scans against a pool of Nessus-class scanners.`,
	Run:   runDaemon,
}

func init() {
	rootCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	rootCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	rootCmd.Flags().String("redis-url", "redis://127.0.0.1:6379/0", "Redis connection URL")
	rootCmd.Flags().String("data-dir", "/var/lib/nessus-orchestrator", "Task store root directory")
	rootCmd.Flags().String("pools-config", "/etc/nessus-orchestrator/pools.yaml", "Scanner pool topology YAML")
	rootCmd.Flags().String("plugin-table", "/etc/nessus-orchestrator/plugin-table.yaml", "Authentication-diagnostic plugin ID table YAML")
	rootCmd.Flags().String("default-pool", "nessus", "Default scanner pool name")
	rootCmd.Flags().Duration("idempotency-ttl", 48*time.Hour, "Idempotency record TTL")
	rootCmd.Flags().Duration("completed-ttl", 7*24*time.Hour, "COMPLETED task retention")
	rootCmd.Flags().Duration("failed-ttl", 30*24*time.Hour, "FAILED/TIMEOUT task retention")
	rootCmd.Flags().Duration("housekeeping-interval", time.Hour, "Housekeeping sweep cadence")
	rootCmd.Flags().Duration("stale-running-threshold", 24*time.Hour, "Age at which a RUNNING task is reaped")
	rootCmd.Flags().Duration("scan-ceiling", 24*time.Hour, "Hard per-scan wall-clock ceiling")
	rootCmd.Flags().Uint32("breaker-failure-threshold", 5, "Consecutive failures before a circuit opens")
	rootCmd.Flags().Duration("breaker-recovery-timeout", 30*time.Second, "Circuit open-to-half-open duration")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().Bool("log-json", false, "Emit JSON-formatted logs")

	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("NESSUSORCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// loadConfig assembles a config.Config from viper, starting from
// config.Defaults() so any flag a deployment omits still gets a sane value.
func loadConfig() config.Config {
	cfg := config.Defaults()
	cfg.Server.Host = viper.GetString("host")
	cfg.Server.Port = viper.GetInt("port")
	cfg.KV.URL = viper.GetString("redis-url")
	cfg.Storage.DataDir = viper.GetString("data-dir")
	cfg.Storage.RegistryConfigPath = viper.GetString("pools-config")
	cfg.Storage.PluginTablePath = viper.GetString("plugin-table")
	cfg.DefaultPool = viper.GetString("default-pool")
	cfg.TTL.IdempotencyTTL = viper.GetDuration("idempotency-ttl")
	cfg.TTL.CompletedTTL = viper.GetDuration("completed-ttl")
	cfg.TTL.FailedTTL = viper.GetDuration("failed-ttl")
	cfg.Housekeeping.Interval = viper.GetDuration("housekeeping-interval")
	cfg.Housekeeping.StaleRunningThreshold = viper.GetDuration("stale-running-threshold")
	cfg.Housekeeping.ScanCeiling = viper.GetDuration("scan-ceiling")
	cfg.Breaker.FailureThreshold = uint32(viper.GetInt("breaker-failure-threshold"))
	cfg.Breaker.RecoveryTimeout = viper.GetDuration("breaker-recovery-timeout")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.LogJSON = viper.GetBool("log-json")
	return cfg
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	obslog.Init(obslog.Config{
		Level:      obslog.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	log := obslog.New("orchd")

	log.Info("starting orchd")

	reg, err := registry.LoadConfig(cfg.Storage.RegistryConfigPath)
	if err != nil {
		log.Error("failed to load pool topology: %v", err)
		os.Exit(1)
	}
	registryInst := registry.New(reg)

	plugins, err := validator.LoadPluginTable(cfg.Storage.PluginTablePath)
	if err != nil {
		log.Error("failed to load plugin table: %v", err)
		os.Exit(1)
	}

	kvClient, err := kv.NewFromURL(cfg.KV.URL)
	if err != nil {
		log.Error("failed to connect to redis: %v", err)
		os.Exit(1)
	}
	defer kvClient.Close()

	store := taskstore.New(cfg.Storage.DataDir)
	q := queue.New(kvClient)
	idemp := idempotency.New(kvClient, cfg.TTL.IdempotencyTTL)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	})

	admit := admission.New(registryInst, store, q, idemp, cfg.DefaultPool)
	qsvc := query.New(store, registryInst, q)

	newAdapter := func(ic registry.InstanceConfig) scanner.Adapter {
		return scanner.NewNessusClient(ic.URL, ic.Username, ic.Password)
	}
	w := worker.New(registryInst, q, store, breakers, newAdapter, plugins, worker.Config{
		ScanCeiling: cfg.Housekeeping.ScanCeiling,
	}, obslog.New("worker"))

	sweeper := housekeeping.New(store, nil, housekeeping.Config{
		Interval:              cfg.Housekeeping.Interval,
		CompletedTTL:          cfg.TTL.CompletedTTL,
		FailedTTL:             cfg.TTL.FailedTTL,
		StaleRunningThreshold: cfg.Housekeeping.StaleRunningThreshold,
	}, obslog.New("housekeeping"))

	dataDir := cfg.Storage.DataDir
	api := httpapi.New(admit, qsvc, httpapi.HealthChecker{
		KV: kvClient,
		DataDir: func() error {
			_, err := os.Stat(dataDir)
			return err
		},
	}, obslog.New("httpapi"))
	engine := api.Setup()

	go w.Run()
	go sweeper.Run()

	metricsStop := make(chan struct{})
	go refreshMetrics(metricsStop, registryInst, q, breakers)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("listening on %s", addr)

	srvErr := make(chan error, 1)
	go func() { srvErr <- engine.Run(addr) }()

	for {
		select {
		case sig := <-signals:
			switch sig {
			case syscall.SIGHUP:
				log.Info("SIGHUP received, reloading pool topology")
				if err := registryInst.Reload(cfg.Storage.RegistryConfigPath); err != nil {
					log.Error("pool topology reload failed: %v", err)
				}
				continue
			default:
				log.Info("shutting down")
				w.Stop()
				sweeper.Stop()
				close(metricsStop)
				return
			}
		case err := <-srvErr:
			if err != nil {
				log.Error("http server failed: %v", err)
			}
			w.Stop()
			sweeper.Stop()
			close(metricsStop)
			return
		}
	}
}

// refreshMetrics periodically republishes the gauge series that describe
// current state rather than a single event: per-pool queue/DLQ depth,
// per-instance active/capacity/utilization, and per-instance circuit state.
// These have no natural call site elsewhere since nothing "happens" to
// trigger them; they are a snapshot of registry/queue/breaker state.
func refreshMetrics(stop <-chan struct{}, reg *registry.Registry, q *queue.Manager, breakers *breaker.Registry) {
	ticker := time.NewTicker(metricsRefreshInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		for _, pool := range reg.Pools() {
			if depth, err := q.GetDepth(ctx, pool); err == nil {
				metrics.SetPoolQueueDepth(pool, depth)
			}
			if dlq, err := q.GetDLQSize(ctx, pool); err == nil {
				metrics.SetPoolDLQDepth(pool, dlq)
			}
		}

		var active int
		for _, inst := range reg.ListScanners("") {
			metrics.SetCircuitState(inst.InstanceID, int(breakers.State(inst.InstanceID)))
		}
		for _, pool := range reg.Pools() {
			status := reg.GetPoolStatus(pool)
			for _, inst := range status.Instances {
				metrics.SetScannerGauges(inst.InstanceID, inst.ActiveScans, inst.MaxConcurrentScans)
				active += inst.ActiveScans
			}
		}
		metrics.ActiveScans.Set(float64(active))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
