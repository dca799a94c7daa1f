// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config defines the orchestrator's configuration surface, bound
// from flags and NESSUSORCH_* environment variables the way the teacher's
// cmd/server wires viper, plus the pool-topology and plugin-table files
// loaded separately as YAML (§6.5).
package config

import "time"

type Config struct {
	Server       ServerConfig
	KV           KVConfig
	Storage      StorageConfig
	TTL          TTLConfig
	Housekeeping HousekeepingConfig
	Breaker      BreakerConfig
	LogLevel     string
	LogJSON      bool
	DefaultPool  string
	WorkerPools  []string // empty means "all configured pools"
}

type ServerConfig struct {
	Host string
	Port int
}

type KVConfig struct {
	URL string
}

type StorageConfig struct {
	DataDir          string
	RegistryConfigPath string
	PluginTablePath    string
}

type TTLConfig struct {
	IdempotencyTTL time.Duration // default 48h
	CompletedTTL   time.Duration // default 7d
	FailedTTL      time.Duration // default 30d
}

type HousekeepingConfig struct {
	Interval              time.Duration // default 1h
	StaleRunningThreshold time.Duration // default 24h
	ScanCeiling           time.Duration // default 24h, the hard per-scan wall clock limit
}

type BreakerConfig struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenMax      uint32
}

// Defaults returns a Config with every spec-mandated default applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage: StorageConfig{
			DataDir:            "/var/lib/nessus-orchestrator",
			RegistryConfigPath: "/etc/nessus-orchestrator/pools.yaml",
			PluginTablePath:    "/etc/nessus-orchestrator/plugin-table.yaml",
		},
		TTL: TTLConfig{
			IdempotencyTTL: 48 * time.Hour,
			CompletedTTL:   7 * 24 * time.Hour,
			FailedTTL:      30 * 24 * time.Hour,
		},
		Housekeeping: HousekeepingConfig{
			Interval:              time.Hour,
			StaleRunningThreshold: 24 * time.Hour,
			ScanCeiling:           24 * time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMax:      1,
		},
		LogLevel:    "info",
		DefaultPool: "nessus",
	}
}
