// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package registry tracks scanner pools and instances: their configuration,
// live utilization counters, and least-loaded selection.
package registry

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
)

// InstanceConfig is one scanner endpoint's static configuration.
type InstanceConfig struct {
	InstanceID         string `yaml:"instance_id"`
	URL                string `yaml:"url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Enabled            bool   `yaml:"enabled"`
	MaxConcurrentScans int    `yaml:"max_concurrent_scans"`
}

// Config is the pool_name -> []instance mapping loaded from YAML.
type Config map[string][]InstanceConfig

// LoadConfig reads and parses a pool-topology YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.WrapStorageError(err, "reading registry config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.WrapInternal(err, "parsing registry config")
	}
	return cfg, nil
}

type instanceState struct {
	cfg         InstanceConfig
	pool        string
	activeScans int
	lastUsed    time.Time
}

// Registry is the process-global (but injectable, not a package-level
// singleton) source of truth for pool/instance state.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*instanceState // keyed by instance_id
	pools     map[string][]string       // pool -> instance_ids, insertion order
}

// New builds a Registry from cfg.
func New(cfg Config) *Registry {
	r := &Registry{
		instances: make(map[string]*instanceState),
		pools:     make(map[string][]string),
	}
	r.load(cfg)
	return r
}

func (r *Registry) load(cfg Config) {
	instances := make(map[string]*instanceState)
	pools := make(map[string][]string)
	for pool, list := range cfg {
		for _, ic := range list {
			// Preserve live counters across a reload for instances that
			// still exist, so in-flight acquisitions remain valid.
			active := 0
			if prev, ok := r.instances[ic.InstanceID]; ok {
				active = prev.activeScans
			}
			instances[ic.InstanceID] = &instanceState{cfg: ic, pool: pool, activeScans: active}
			pools[pool] = append(pools[pool], ic.InstanceID)
		}
	}
	r.instances = instances
	r.pools = pools
}

// Reload re-reads configuration from path and mutates the registry without
// interrupting in-flight acquisitions (existing instance_id counters carry
// forward). It takes the registry mutex, so it may run concurrently with
// selection and Acquire/Release; orchd calls it from its signal loop as soon
// as SIGHUP arrives, not between worker dequeue iterations, so scans may be
// in flight while it runs.
func (r *Registry) Reload(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(cfg)
	return nil
}

// Pools returns the configured pool names.
func (r *Registry) Pools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pools))
	for p := range r.pools {
		out = append(out, p)
	}
	return out
}

// GetPoolCapacity returns the sum of max_concurrent_scans over enabled
// instances of pool.
func (r *Registry) GetPoolCapacity(pool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, id := range r.pools[pool] {
		inst := r.instances[id]
		if inst.cfg.Enabled {
			total += inst.cfg.MaxConcurrentScans
		}
	}
	return total
}

// GetPoolActive returns the sum of active_scans over instances of pool.
func (r *Registry) GetPoolActive(pool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, id := range r.pools[pool] {
		total += r.instances[id].activeScans
	}
	return total
}

// InstanceStatus is a snapshot of one instance for status/metrics reporting.
type InstanceStatus struct {
	InstanceID  string
	Pool        string
	Enabled     bool
	ActiveScans int
	MaxConcurrentScans int
}

// PoolStatus aggregates totals plus the per-instance breakdown.
type PoolStatus struct {
	Pool      string
	Capacity  int
	Active    int
	Instances []InstanceStatus
}

// GetPoolStatus returns totals and per-instance breakdown for pool.
func (r *Registry) GetPoolStatus(pool string) PoolStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := PoolStatus{Pool: pool}
	for _, id := range r.pools[pool] {
		inst := r.instances[id]
		status.Instances = append(status.Instances, InstanceStatus{
			InstanceID:         id,
			Pool:               pool,
			Enabled:            inst.cfg.Enabled,
			ActiveScans:        inst.activeScans,
			MaxConcurrentScans: inst.cfg.MaxConcurrentScans,
		})
		if inst.cfg.Enabled {
			status.Capacity += inst.cfg.MaxConcurrentScans
		}
		status.Active += inst.activeScans
	}
	return status
}

// ListScanners returns instance configs for pool, or every instance if pool is "".
func (r *Registry) ListScanners(pool string) []InstanceConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []InstanceConfig
	if pool != "" {
		for _, id := range r.pools[pool] {
			out = append(out, r.instances[id].cfg)
		}
		return out
	}
	for _, ids := range r.pools {
		for _, id := range ids {
			out = append(out, r.instances[id].cfg)
		}
	}
	return out
}

// PoolExists reports whether pool is a configured pool name.
func (r *Registry) PoolExists(pool string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pools[pool]
	return ok
}

// GetAvailableScanner selects, under the registry mutex, the enabled
// instance in pool with the smallest utilization (active/max), ties broken
// by least-recently-used. If preferInstanceID is non-empty, only that
// instance is considered (the "must" interpretation of scanner_instance in
// admission, per the open-question resolution). Returns ("", false) when no
// instance has spare capacity.
//
// This is a read-only snapshot: selection alone does not reserve capacity,
// so callers that mean to dispatch work must use AcquireAvailable instead,
// which selects and increments atomically. Kept for status/introspection
// call sites that only want to know whether a pool looks available.
func (r *Registry) GetAvailableScanner(pool, preferInstanceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _, ok := r.selectLocked(pool, preferInstanceID)
	return id, ok
}

// AcquireAvailable selects the least-loaded enabled instance in pool (or
// preferInstanceID alone, if set) and increments its live counter in the
// same critical section, so the check-then-increment race that let two
// callers both pass the capacity check on the same instance cannot happen.
// Returns ("", false) if no instance currently has spare capacity; the
// caller must pair a successful acquisition with a deferred Release.
func (r *Registry) AcquireAvailable(pool, preferInstanceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, inst, ok := r.selectLocked(pool, preferInstanceID)
	if !ok {
		return "", false
	}
	inst.activeScans++
	inst.lastUsed = time.Now()
	return id, true
}

// selectLocked implements the least-loaded + LRU-tiebreak selection. Callers
// must hold r.mu.
func (r *Registry) selectLocked(pool, preferInstanceID string) (string, *instanceState, bool) {
	candidates := r.pools[pool]
	if preferInstanceID != "" {
		candidates = []string{preferInstanceID}
	}

	var best *instanceState
	var bestID string
	var bestUtil float64 = 2 // > any real utilization ratio of 1.0
	for _, id := range candidates {
		inst, ok := r.instances[id]
		if !ok || !inst.cfg.Enabled || inst.cfg.MaxConcurrentScans <= 0 {
			continue
		}
		if inst.activeScans >= inst.cfg.MaxConcurrentScans {
			continue
		}
		util := float64(inst.activeScans) / float64(inst.cfg.MaxConcurrentScans)
		if util < bestUtil || (util == bestUtil && inst.lastUsed.Before(best.lastUsed)) {
			best = inst
			bestID = id
			bestUtil = util
		}
	}
	if best == nil {
		return "", nil, false
	}
	return bestID, best, true
}

// Acquire increments an instance's live counter. Must be paired with
// Release on every exit path.
func (r *Registry) Acquire(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[instanceID]; ok {
		inst.activeScans++
		inst.lastUsed = time.Now()
	}
}

// Release decrements an instance's live counter.
func (r *Registry) Release(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[instanceID]; ok && inst.activeScans > 0 {
		inst.activeScans--
	}
}

// InstanceConfig returns the configured InstanceConfig for an instance, used
// by the adapter factory.
func (r *Registry) InstanceConfig(instanceID string) (InstanceConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return InstanceConfig{}, false
	}
	return inst.cfg, true
}
