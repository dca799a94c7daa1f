// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package taskstore persists Task records as one JSON document per task
// directory, serializing concurrent writers with a cross-process file lock.
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

const (
	taskFileName   = "task.json"
	nessusFileName = "scan_native.nessus"
	lockFileName   = ".lock"
)

var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// Store reads and writes task.json under a per-task file lock.
type Store struct {
	dataDir string
}

// New returns a Store rooted at dataDir ({data_dir}/tasks per the on-disk layout).
func New(dataDir string) *Store {
	return &Store{dataDir: filepath.Join(dataDir, "tasks")}
}

func sanitizeTaskID(taskID string) (string, error) {
	if taskID == "" || !safeIDPattern.MatchString(taskID) {
		return "", apperr.NewInvalidArgument(fmt.Sprintf("invalid task id %q", taskID))
	}
	return taskID, nil
}

func (s *Store) taskDir(taskID string) (string, error) {
	clean, err := sanitizeTaskID(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, clean), nil
}

// NessusFilePath returns the path scan_native.nessus should be written to for taskID.
func (s *Store) NessusFilePath(taskID string) (string, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, nessusFileName), nil
}

// withLock acquires the per-task advisory lock and runs fn. The lock is an
// OS primitive (flock(2) via gofrs/flock) that fails loudly -- if it cannot
// be acquired within the timeout, an error is returned rather than
// proceeding unprotected.
func (s *Store) withLock(dir string, fn func() error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.WrapStorageError(err, "creating task directory")
	}
	lockPath := filepath.Join(dir, lockFileName)
	fl := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return apperr.WrapStorageError(err, "acquiring task file lock")
	}
	if !locked {
		return apperr.NewTimeout("timed out acquiring task file lock for " + dir)
	}
	defer fl.Unlock()

	return fn()
}

// Create writes a brand-new task.json. It fails if one already exists.
func (s *Store) Create(t *task.Task) error {
	dir, err := s.taskDir(t.TaskID)
	if err != nil {
		return err
	}
	return s.withLock(dir, func() error {
		path := filepath.Join(dir, taskFileName)
		if _, err := os.Stat(path); err == nil {
			return apperr.NewConflict("task " + t.TaskID + " already exists")
		}
		return writeTaskFile(path, t)
	})
}

// Get reads task.json for taskID. Readers may race a writer; a single retry
// absorbs the short window of a partially-written file.
func (s *Store) Get(taskID string) (*task.Task, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, taskFileName)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, apperr.NewNotFound("task " + taskID + " not found")
			}
			lastErr = err
			continue
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			lastErr = err
			continue
		}
		return &t, nil
	}
	return nil, apperr.WrapStorageError(lastErr, "reading task "+taskID)
}

// Update loads the current task, applies u via task.Apply, and persists the
// result, all under the file lock, so the read-modify-write cycle is atomic
// with respect to other writers.
func (s *Store) Update(taskID string, u task.Update, now time.Time) (*task.Task, error) {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	var result *task.Task
	err = s.withLock(dir, func() error {
		path := filepath.Join(dir, taskFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return apperr.NewNotFound("task " + taskID + " not found")
			}
			return apperr.WrapStorageError(err, "reading task "+taskID)
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return apperr.WrapStorageError(err, "decoding task "+taskID)
		}
		if err := task.Apply(&t, u, now); err != nil {
			return err
		}
		if err := writeTaskFile(path, &t); err != nil {
			return err
		}
		result = &t
		return nil
	})
	return result, err
}

// ListAll returns every task record found under the data directory, used by
// list_tasks and housekeeping sweeps.
func (s *Store) ListAll() ([]*task.Task, error) {
	var out []*task.Task
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, apperr.WrapStorageError(err, "listing tasks")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := s.Get(e.Name())
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Delete removes a task's entire directory. Used by housekeeping TTL sweeps.
func (s *Store) Delete(taskID string) error {
	dir, err := s.taskDir(taskID)
	if err != nil {
		return err
	}
	return s.withLock(dir, func() error {
		return os.RemoveAll(dir)
	})
}

func writeTaskFile(path string, t *task.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return apperr.WrapInternal(err, "marshaling task")
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.WrapStorageError(err, "opening task file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apperr.WrapStorageError(err, "writing task file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperr.WrapStorageError(err, "fsyncing task file")
	}
	if err := f.Close(); err != nil {
		return apperr.WrapStorageError(err, "closing task file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperr.WrapStorageError(err, "renaming task file into place")
	}
	return nil
}
