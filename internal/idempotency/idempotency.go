// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package idempotency computes submission fingerprints and stores
// fingerprint -> task_id mappings with a TTL via SETNX semantics.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

const DefaultTTL = 48 * time.Hour

// canonicalSubmission is the exact tuple the fingerprint is derived from.
// json.Marshal emits struct fields in declaration order, and the fields are
// declared in alphabetical order of their JSON keys, so the encoding is
// keys-sorted canonical JSON; every field is scalar.
type canonicalSubmission struct {
	Description     string        `json:"description"`
	Escalation      string        `json:"elevate_privileges_with"`
	EscalationUser  string        `json:"escalation_account"`
	EscalationPass  string        `json:"escalation_password"`
	IdempotencyKey  string        `json:"idempotency_key,omitempty"`
	Name            string        `json:"name"`
	ScanType        task.ScanType `json:"scan_type"`
	SSHPassword     string        `json:"ssh_password"`
	SSHUsername     string        `json:"ssh_username"`
	TargetsNorm     string        `json:"targets"`
}

// Fingerprint computes the SHA-256 hex digest of the canonical JSON of the
// submission tuple. Passwords are included (they affect the hash) but are
// never logged in the clear by any caller of this function.
func Fingerprint(scanType task.ScanType, p task.Payload, idempotencyKey string) (string, error) {
	c := canonicalSubmission{
		ScanType:       scanType,
		TargetsNorm:    normalizeTargets(p.Targets),
		Name:           p.Name,
		Description:    p.Description,
		SSHUsername:    p.SSHUsername,
		SSHPassword:    p.SSHPassword,
		Escalation:     string(p.ElevatePrivilegesWith),
		EscalationUser: p.EscalationAccount,
		EscalationPass: p.EscalationPassword,
		IdempotencyKey: idempotencyKey,
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", apperr.WrapInternal(err, "marshaling fingerprint tuple")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeTargets(targets string) string {
	// Comma-separated list normalization: trim whitespace around each entry,
	// keep order (the admission contract does not require sorting).
	out := ""
	start := true
	cur := ""
	flush := func() {
		if cur != "" {
			if !start {
				out += ","
			}
			out += cur
			start = false
		}
		cur = ""
	}
	for _, r := range targets {
		if r == ',' {
			flush()
			continue
		}
		if r == ' ' || r == '\t' {
			continue
		}
		cur += string(r)
	}
	flush()
	return out
}

// BodyHash hashes the raw request body bytes for explicit idempotency-key
// conflict detection (distinct from the fingerprint itself).
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Store records fingerprint -> task_id via SETNX-with-TTL, and separately an
// idempotency_key -> body-hash mapping to detect conflicting reuse of an
// explicit idempotency_key. The body-hash record is keyed by the caller's
// raw idempotency_key rather than by fingerprint: the fingerprint already
// incorporates the full request body, so two divergent bodies submitted
// under the same explicit key produce two different fingerprints and would
// never collide if the body-hash record were keyed by fingerprint too.
type Store struct {
	kv  *kv.Client
	ttl time.Duration
}

func New(c *kv.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: c, ttl: ttl}
}

func key(fingerprint string) string        { return fmt.Sprintf("idemp:%s", fingerprint) }
func bodyKey(idempotencyKey string) string { return fmt.Sprintf("idemp_key:%s", idempotencyKey) }

// Lookup returns the existing task_id for fingerprint, if any.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	v, err := s.kv.Get(ctx, key(fingerprint))
	if err != nil {
		if kv.IsNil(err) {
			return "", false, nil
		}
		return "", false, apperr.WrapStorageError(err, "looking up idempotency key")
	}
	return v, true, nil
}

// CheckBodyConflict returns apperr.Conflict if idempotencyKey was previously
// used with a different bodyHash. No-op (nil) if no explicit key was used or
// no prior body hash is recorded for it.
func (s *Store) CheckBodyConflict(ctx context.Context, idempotencyKey, bodyHash string) error {
	if idempotencyKey == "" || bodyHash == "" {
		return nil
	}
	prev, err := s.kv.Get(ctx, bodyKey(idempotencyKey))
	if err != nil {
		if kv.IsNil(err) {
			return nil
		}
		return apperr.WrapStorageError(err, "checking idempotency body hash")
	}
	if prev != bodyHash {
		return apperr.NewConflict("idempotency key reused with a different request body")
	}
	return nil
}

// Store writes the fingerprint -> task_id mapping using SETNX (never
// overwrites) plus the idempotency_key -> body hash side record.
func (s *Store) Store(ctx context.Context, fingerprint, taskID, idempotencyKey, bodyHash string) error {
	if _, err := s.kv.SetNX(ctx, key(fingerprint), taskID, s.ttl); err != nil {
		return apperr.WrapStorageError(err, "storing idempotency key")
	}
	if idempotencyKey != "" && bodyHash != "" {
		if _, err := s.kv.SetNX(ctx, bodyKey(idempotencyKey), bodyHash, s.ttl); err != nil {
			return apperr.WrapStorageError(err, "storing idempotency body hash")
		}
	}
	return nil
}
