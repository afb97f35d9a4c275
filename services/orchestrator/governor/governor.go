// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package governor enforces per-identity usage quotas with a cooldown window.
//
// Each identity accumulates a count of completed requests within a cycle.
// When the count reaches the identity's maximum (guests get a lower quota
// than authenticated users), a cooldown starts and further requests are
// denied until it elapses, at which point the count resets to zero.
package governor

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

const shardCount = 16

// usageKeyPrefix namespaces governor rows inside the shared badger store.
const usageKeyPrefix = "usage:"

// Limits holds the quota parameters. Values are swapped atomically on config
// reload; in-flight cycles keep their already-scheduled reset times.
type Limits struct {
	GuestMax int
	UserMax  int
	Cooldown time.Duration
}

// DefaultLimits returns the production quota parameters.
func DefaultLimits() Limits {
	return Limits{
		GuestMax: 5,
		UserMax:  20,
		Cooldown: 90 * time.Minute,
	}
}

// UsageCycle is a snapshot of one identity's quota state.
//
// Invariant: CycleResetAt is non-nil exactly when the identity is in
// cooldown, i.e. Count >= Max and the reset time has not yet passed.
type UsageCycle struct {
	Count        int        `json:"count"`
	Max          int        `json:"max"`
	CycleResetAt *time.Time `json:"cycle_reset_at,omitempty"`
}

// Decision is the outcome of an admission check.
//
// When Admitted is false, ResetAt carries the end of the active cooldown so
// the caller can present it, and Reason is a human-readable explanation.
type Decision struct {
	Admitted bool
	Reason   string
	ResetAt  time.Time
}

// persistedCycle is the stored shape. Max is derived from the identity kind
// and the live Limits at evaluation time, never stored.
type persistedCycle struct {
	Count        int        `json:"count"`
	CycleResetAt *time.Time `json:"cycle_reset_at,omitempty"`
}

type shard struct {
	mu     sync.Mutex
	cycles map[string]*persistedCycle
}

// Governor tracks per-identity usage cycles.
//
// # Description
//
// State is sharded by identity key; all reads and mutations for one identity
// happen under that identity's shard lock, so increment-then-compare is
// race-free under concurrent submissions from the same identity. Identities
// on different shards never contend.
//
// When constructed with a badger store, every mutation is written through so
// cycles survive process restarts. Durability is best effort: a failed write
// is logged and the in-memory cycle stays authoritative for this process.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Governor struct {
	limits atomic.Pointer[Limits]
	clock  Clock
	db     *badger.DB
	logger *slog.Logger
	shards [shardCount]shard
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the wall clock. Used by tests.
func WithClock(c Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithStore enables write-through persistence of usage cycles. The Governor
// does not own the handle; the caller closes it.
func WithStore(db *badger.DB) Option {
	return func(g *Governor) { g.db = db }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// NewGovernor creates a Governor with the given limits.
func NewGovernor(limits Limits, opts ...Option) *Governor {
	g := &Governor{
		clock:  SystemClock(),
		logger: slog.Default(),
	}
	g.limits.Store(&limits)
	for i := range g.shards {
		g.shards[i].cycles = make(map[string]*persistedCycle)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetLimits swaps the quota parameters. Safe to call while requests are in
// flight; cooldowns already scheduled keep their original reset times.
func (g *Governor) SetLimits(limits Limits) {
	g.limits.Store(&limits)
	g.logger.Info("usage limits updated",
		"guest_max", limits.GuestMax,
		"user_max", limits.UserMax,
		"cooldown", limits.Cooldown,
	)
}

// CheckAdmission decides whether the identity may start a new request.
//
// An expired cooldown is cleared here, so the first request after the reset
// time is admitted with a fresh cycle. Denials never mutate the count.
func (g *Governor) CheckAdmission(identity datatypes.Identity) Decision {
	limits := g.limits.Load()
	max := g.maxFor(identity, limits)

	s := g.shardFor(identity.Key())
	s.mu.Lock()
	defer s.mu.Unlock()

	c := g.loadLocked(s, identity.Key())
	now := g.clock.Now()
	g.normalizeLocked(identity.Key(), c, now)

	if c.Count < max {
		return Decision{Admitted: true}
	}

	// Count at or over the max with no scheduled reset can happen when the
	// limits were lowered mid-cycle; schedule the cooldown now.
	if c.CycleResetAt == nil {
		resetAt := now.Add(limits.Cooldown)
		c.CycleResetAt = &resetAt
		g.persistLocked(identity.Key(), c)
	}

	return Decision{
		Admitted: false,
		Reason:   fmt.Sprintf("usage limit of %d reached, try again after %s", max, c.CycleResetAt.Format(time.RFC3339)),
		ResetAt:  *c.CycleResetAt,
	}
}

// CommitUsage records one completed request for the identity and returns the
// resulting cycle. When the post-increment count reaches the maximum, the
// cooldown starts immediately.
//
// Callers invoke this exactly once per request, after the assistant message
// has been durably persisted, so an aborted request never consumes quota.
func (g *Governor) CommitUsage(identity datatypes.Identity) UsageCycle {
	limits := g.limits.Load()
	max := g.maxFor(identity, limits)

	s := g.shardFor(identity.Key())
	s.mu.Lock()
	defer s.mu.Unlock()

	c := g.loadLocked(s, identity.Key())
	now := g.clock.Now()
	g.normalizeLocked(identity.Key(), c, now)

	c.Count++
	if c.Count >= max && c.CycleResetAt == nil {
		resetAt := now.Add(limits.Cooldown)
		c.CycleResetAt = &resetAt
	}
	g.persistLocked(identity.Key(), c)

	return snapshot(c, max)
}

// Usage returns the identity's current cycle without consuming quota. An
// expired cooldown is cleared before the snapshot is taken.
func (g *Governor) Usage(identity datatypes.Identity) UsageCycle {
	limits := g.limits.Load()
	max := g.maxFor(identity, limits)

	s := g.shardFor(identity.Key())
	s.mu.Lock()
	defer s.mu.Unlock()

	c := g.loadLocked(s, identity.Key())
	g.normalizeLocked(identity.Key(), c, g.clock.Now())

	return snapshot(c, max)
}

func (g *Governor) maxFor(identity datatypes.Identity, limits *Limits) int {
	if identity.IsGuest() {
		return limits.GuestMax
	}
	return limits.UserMax
}

func (g *Governor) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &g.shards[h.Sum32()%shardCount]
}

// normalizeLocked clears an elapsed cooldown. Caller holds the shard lock.
func (g *Governor) normalizeLocked(key string, c *persistedCycle, now time.Time) {
	if c.CycleResetAt == nil || now.Before(*c.CycleResetAt) {
		return
	}
	c.Count = 0
	c.CycleResetAt = nil
	g.persistLocked(key, c)
}

// loadLocked returns the identity's cycle, faulting it in from the badger
// store on first touch. Caller holds the shard lock.
func (g *Governor) loadLocked(s *shard, key string) *persistedCycle {
	if c, ok := s.cycles[key]; ok {
		return c
	}

	c := &persistedCycle{}
	if g.db != nil {
		err := g.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(usageKeyPrefix + key))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, c)
			})
		})
		if err != nil && err != badger.ErrKeyNotFound {
			g.logger.Warn("usage cycle load failed, starting fresh",
				"identity", key,
				"error", err,
			)
			*c = persistedCycle{}
		}
	}

	s.cycles[key] = c
	return c
}

// persistLocked writes the cycle through to the badger store, if configured.
// Entries carry a TTL so abandoned identities age out on their own.
func (g *Governor) persistLocked(key string, c *persistedCycle) {
	if g.db == nil {
		return
	}

	data, err := json.Marshal(c)
	if err != nil {
		g.logger.Warn("usage cycle marshal failed", "identity", key, "error", err)
		return
	}

	err = g.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(usageKeyPrefix+key), data).WithTTL(24 * time.Hour)
		return txn.SetEntry(entry)
	})
	if err != nil {
		g.logger.Warn("usage cycle persist failed", "identity", key, "error", err)
	}
}

func snapshot(c *persistedCycle, max int) UsageCycle {
	out := UsageCycle{Count: c.Count, Max: max}
	if c.CycleResetAt != nil {
		t := *c.CycleResetAt
		out.CycleResetAt = &t
	}
	return out
}
