// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package query implements the read-only introspection and retrieval
// operations of the admission surface (C8): get_status, get_results,
// list_tasks, list_scanners, list_pools, get_pool_status, get_queue_status.
package query

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/netmatch"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/results"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
)

// Service answers reads against the task store, registry, and queue manager.
type Service struct {
	store *taskstore.Store
	reg   *registry.Registry
	q     *queue.Manager
}

func New(store *taskstore.Store, reg *registry.Registry, q *queue.Manager) *Service {
	return &Service{store: store, reg: reg, q: q}
}

// ResultsSummary is the terminal-state severity histogram surfaced by
// get_status, computed from the validator's stored ValidationStats.
type ResultsSummary struct {
	HostsScanned        int `json:"hosts_scanned"`
	TotalVulnerabilities int `json:"total_vulnerabilities"`
	Critical             int `json:"critical"`
	High                  int `json:"high"`
	Medium                int `json:"medium"`
	Low                   int `json:"low"`
	Info                  int `json:"info"`
}

// StatusResult is the get_status response shape.
type StatusResult struct {
	TaskID               string                    `json:"task_id"`
	Status               task.Status               `json:"status"`
	Progress             *int                      `json:"progress"`
	ScanType             task.ScanType              `json:"scan_type"`
	AuthenticationStatus *task.AuthenticationStatus `json:"authentication_status"`
	Targets              string                    `json:"targets"`
	Name                 string                    `json:"name"`
	CreatedAt            interface{}               `json:"created_at"`
	StartedAt            interface{}               `json:"started_at"`
	CompletedAt          interface{}               `json:"completed_at"`
	ErrorMessage         string                    `json:"error_message,omitempty"`
	ResultsSummary       *ResultsSummary           `json:"results_summary,omitempty"`
}

// GetStatus reads task.json directly and surfaces every field §4.1 requires.
func (s *Service) GetStatus(taskID string) (*StatusResult, error) {
	t, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	res := &StatusResult{
		TaskID:       t.TaskID,
		Status:       t.Status,
		Progress:     t.Progress,
		ScanType:     t.ScanType,
		Targets:      t.Payload.Targets,
		Name:         t.Payload.Name,
		CreatedAt:    t.CreatedAt,
		ErrorMessage: t.ErrorMessage,
	}
	if t.StartedAt != nil {
		res.StartedAt = *t.StartedAt
	}
	if t.CompletedAt != nil {
		res.CompletedAt = *t.CompletedAt
	}
	if t.ScanType != task.ScanTypeUntrusted {
		auth := t.AuthenticationStatus
		res.AuthenticationStatus = &auth
	}
	if t.Status.IsTerminal() && t.ValidationStats != nil {
		res.ResultsSummary = &ResultsSummary{
			HostsScanned:         t.ValidationStats.HostsScanned,
			TotalVulnerabilities: t.ValidationStats.TotalVulnerabilities,
			Critical:             t.ValidationStats.Critical,
			High:                 t.ValidationStats.High,
			Medium:               t.ValidationStats.Medium,
			Low:                  t.ValidationStats.Low,
			Info:                 t.ValidationStats.Info,
		}
	}
	return res, nil
}

// GetResults streams the get_results JSON-Lines pipeline for taskID into w.
func (s *Service) GetResults(taskID string, req results.Request, w io.Writer) error {
	t, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	path, err := s.store.NessusFilePath(taskID)
	if err != nil {
		return err
	}
	open := func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, apperr.NewNotFound("no exported results for task " + taskID)
			}
			return nil, apperr.WrapStorageError(err, "opening exported results")
		}
		return f, nil
	}

	if req.SchemaProfile == "" {
		req.SchemaProfile = "brief"
	}

	meta := results.Metadata{
		TaskID:  t.TaskID,
		Name:    t.Payload.Name,
		Targets: t.Payload.Targets,
	}
	if t.StartedAt != nil {
		meta.StartedAt = *t.StartedAt
	}
	if t.CompletedAt != nil {
		meta.CompletedAt = *t.CompletedAt
	}
	if t.ValidationStats != nil {
		meta.Summary = t.ValidationStats
	}

	return results.Generate(open, req, meta, w)
}

// ListTasksRequest filters list_tasks.
type ListTasksRequest struct {
	Limit        int
	Status       task.Status
	Pool         string
	TargetFilter string
}

// ListTasks returns tasks matching the filters, newest first, capped at Limit.
func (s *Service) ListTasks(req ListTasksRequest) ([]*task.Task, error) {
	all, err := s.store.ListAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	var out []*task.Task
	for _, t := range all {
		if req.Status != "" && t.Status != req.Status {
			continue
		}
		if req.Pool != "" && t.ScannerPool != req.Pool {
			continue
		}
		if req.TargetFilter != "" && !netmatch.MatchesAny(t.Payload.Targets, req.TargetFilter) {
			continue
		}
		out = append(out, t)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

// ListScanners returns the configured instances for pool, or all pools if empty.
func (s *Service) ListScanners(pool string) []registry.InstanceConfig {
	return s.reg.ListScanners(pool)
}

// ListPools returns the configured pool names.
func (s *Service) ListPools() []string {
	return s.reg.Pools()
}

// GetPoolStatus returns the registry's pool status snapshot.
func (s *Service) GetPoolStatus(pool string) registry.PoolStatus {
	return s.reg.GetPoolStatus(pool)
}

// QueueStatus is the get_queue_status response for one pool.
type QueueStatus struct {
	Pool    string `json:"pool"`
	Depth   int64  `json:"depth"`
	DLQSize int64  `json:"dlq_size"`
}

// GetQueueStatus reports FIFO depth and DLQ size for pool (or every pool if empty).
func (s *Service) GetQueueStatus(ctx context.Context, pool string) ([]QueueStatus, error) {
	pools := []string{pool}
	if pool == "" {
		pools = s.reg.Pools()
	}
	out := make([]QueueStatus, 0, len(pools))
	for _, p := range pools {
		depth, err := s.q.GetDepth(ctx, p)
		if err != nil {
			return nil, err
		}
		dlq, err := s.q.GetDLQSize(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStatus{Pool: p, Depth: depth, DLQSize: dlq})
	}
	return out, nil
}
