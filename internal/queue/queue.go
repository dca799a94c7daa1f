// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package queue implements the per-pool FIFO queue and dead-letter queue
// backed by Redis lists and sorted sets.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

// Entry is a queue record: enough context for the worker to proceed without
// reading the task file first. The task file remains the source of truth.
type Entry struct {
	TaskID              string        `json:"task_id"`
	TraceID             string        `json:"trace_id"`
	ScannerPool         string        `json:"scanner_pool"`
	ScannerInstanceID   string        `json:"scanner_instance_id,omitempty"`
	ScanType            task.ScanType `json:"scan_type"`
	Payload             task.Payload  `json:"payload"`

	// Populated only once an entry has been moved to the DLQ.
	Error    string `json:"error,omitempty"`
	FailedAt int64  `json:"failed_at,omitempty"`
}

// Manager provides the enqueue/dequeue/DLQ operations of the queue component.
type Manager struct {
	kv *kv.Client
}

func New(c *kv.Client) *Manager { return &Manager{kv: c} }

func queueKey(pool string) string { return fmt.Sprintf("%s:queue", pool) }
func dlqKey(pool string) string   { return fmt.Sprintf("%s:queue:dead", pool) }

// Enqueue appends entry to the pool's FIFO (LPUSH) and returns the resulting
// queue depth.
func (m *Manager) Enqueue(ctx context.Context, pool string, entry Entry) (int64, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, apperr.WrapInternal(err, "marshaling queue entry")
	}
	n, err := m.kv.Raw().LPush(ctx, queueKey(pool), data).Result()
	if err != nil {
		return 0, apperr.WrapStorageError(err, "enqueuing to "+pool)
	}
	return n, nil
}

// Dequeue blocks up to timeout for one entry from a single pool's queue.
func (m *Manager) Dequeue(ctx context.Context, pool string, timeout time.Duration) (*Entry, error) {
	return m.dequeueFrom(ctx, timeout, queueKey(pool))
}

// DequeueAny performs a single atomic blocking pop across the queues of all
// the given pools at once (one BRPOP over multiple keys), which is required for
// fairness: polling pools in turn would starve whichever is checked last
// under sustained load.
func (m *Manager) DequeueAny(ctx context.Context, pools []string, timeout time.Duration) (*Entry, error) {
	if len(pools) == 0 {
		return nil, nil
	}
	keys := make([]string, len(pools))
	for i, p := range pools {
		keys[i] = queueKey(p)
	}
	return m.dequeueFrom(ctx, timeout, keys...)
}

func (m *Manager) dequeueFrom(ctx context.Context, timeout time.Duration, keys ...string) (*Entry, error) {
	res, err := m.kv.Raw().BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apperr.WrapStorageError(err, "dequeuing")
	}
	// res is [key, value]
	if len(res) != 2 {
		return nil, apperr.WrapInternal(nil, "unexpected BRPOP reply shape")
	}
	var e Entry
	if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
		return nil, apperr.WrapStorageError(err, "decoding queue entry")
	}
	return &e, nil
}

// MoveToDLQ augments entry with error/failed_at and stores it in the pool's
// dead-letter sorted set, scored by Unix timestamp.
func (m *Manager) MoveToDLQ(ctx context.Context, pool string, entry Entry, errString string) error {
	entry.Error = errString
	now := time.Now()
	entry.FailedAt = now.Unix()

	data, err := json.Marshal(entry)
	if err != nil {
		return apperr.WrapInternal(err, "marshaling DLQ entry")
	}
	return m.kv.Raw().ZAdd(ctx, dlqKey(pool), redis.Z{
		Score:  float64(entry.FailedAt),
		Member: data,
	}).Err()
}

// GetDepth returns the current length of a pool's FIFO.
func (m *Manager) GetDepth(ctx context.Context, pool string) (int64, error) {
	n, err := m.kv.Raw().LLen(ctx, queueKey(pool)).Result()
	if err != nil {
		return 0, apperr.WrapStorageError(err, "reading queue depth for "+pool)
	}
	return n, nil
}

// GetDLQSize returns the number of entries in a pool's dead-letter set.
func (m *Manager) GetDLQSize(ctx context.Context, pool string) (int64, error) {
	n, err := m.kv.Raw().ZCard(ctx, dlqKey(pool)).Result()
	if err != nil {
		return 0, apperr.WrapStorageError(err, "reading DLQ size for "+pool)
	}
	return n, nil
}

// ListDLQ returns up to limit DLQ entries for pool, oldest first.
func (m *Manager) ListDLQ(ctx context.Context, pool string, limit int64) ([]Entry, error) {
	raw, err := m.kv.Raw().ZRange(ctx, dlqKey(pool), 0, limit-1).Result()
	if err != nil {
		return nil, apperr.WrapStorageError(err, "listing DLQ for "+pool)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// RetryDLQ finds the DLQ entry for taskID, removes it, clears error/failed_at
// and re-enqueues it at the tail of the pool's FIFO.
func (m *Manager) RetryDLQ(ctx context.Context, pool, taskID string) error {
	raw, err := m.kv.Raw().ZRange(ctx, dlqKey(pool), 0, -1).Result()
	if err != nil {
		return apperr.WrapStorageError(err, "scanning DLQ for "+pool)
	}
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		if e.TaskID != taskID {
			continue
		}
		if err := m.kv.Raw().ZRem(ctx, dlqKey(pool), r).Err(); err != nil {
			return apperr.WrapStorageError(err, "removing DLQ entry")
		}
		e.Error = ""
		e.FailedAt = 0
		_, err := m.Enqueue(ctx, pool, e)
		return err
	}
	return apperr.NewNotFound("no DLQ entry for task " + taskID + " in pool " + pool)
}

// PurgeDLQ removes every entry from a pool's dead-letter set.
func (m *Manager) PurgeDLQ(ctx context.Context, pool string) error {
	return m.kv.Raw().Del(ctx, dlqKey(pool)).Err()
}
