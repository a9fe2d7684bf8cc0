// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package correlate

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/kestrel/internal/alert"
	"github.com/kestrelsec/kestrel/internal/classify"
	"github.com/kestrelsec/kestrel/internal/logging"
)

// Fingerprint groups alerts into incidents. Source identity plus attack
// type is always sufficient for a match; the optional target only
// contributes priority weighting, never grouping on its own.
type Fingerprint struct {
	Source string              `json:"source"`
	Attack classify.AttackType `json:"attack"`
	Target string              `json:"target,omitempty"`
}

// Key is the grouping key. Target is deliberately excluded.
func (f Fingerprint) Key() string {
	return f.Source + "|" + string(f.Attack)
}

// IncidentState is the incident lifecycle state.
type IncidentState string

const (
	IncidentOpen   IncidentState = "open"
	IncidentClosed IncidentState = "closed"
)

// Incident is a correlated group of alerts sharing a fingerprint.
type Incident struct {
	ID          string        `json:"id"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	State       IncidentState `json:"state"`
	OpenedAt    time.Time     `json:"opened_at"`
	LastSeen    time.Time     `json:"last_seen"`
	ClosedAt    time.Time     `json:"closed_at,omitempty"`
	ReopenCount int           `json:"reopen_count,omitempty"`

	// MemberIDs is the complete list of claimed alert IDs, debounced
	// members included.
	MemberIDs []string `json:"member_ids"`

	// BurstCount counts members merged inside the debounce interval.
	BurstCount int `json:"burst_count"`

	MaxSeverity alert.Severity `json:"max_severity"`
	Priority    float64        `json:"priority"`
}

func (in *Incident) clone() *Incident {
	cp := *in
	cp.MemberIDs = append([]string(nil), in.MemberIDs...)
	return &cp
}

// Outcome describes how an alert was claimed.
type Outcome struct {
	Incident *Incident

	// Created is true when the alert opened a new incident.
	Created bool

	// Reopened is true when the alert re-opened a closed incident within
	// its grace period.
	Reopened bool

	// Debounced is true when the alert merged into the incident inside
	// the debounce interval; consumers suppress a top-level notification
	// for such members.
	Debounced bool
}

// Config configures the correlation engine.
type Config struct {
	// Window is how long an incident stays open without a matching alert.
	// Default: 5m.
	Window time.Duration `json:"window" koanf:"window"`

	// Grace allows a fingerprint match to re-open a closed incident.
	// Default: 10m.
	Grace time.Duration `json:"grace" koanf:"grace"`

	// Debounce merges identical fingerprints arriving within it without a
	// new top-level notification. Default: 10s.
	Debounce time.Duration `json:"debounce" koanf:"debounce"`

	// MaxIncidents bounds the incident table. At capacity the oldest
	// evictable incident is dropped and the exhaustion is escalated.
	// Default: 10000.
	MaxIncidents int `json:"max_incidents" koanf:"max_incidents"`

	// Shards is the lock-sharding factor. Default: 16.
	Shards int `json:"shards" koanf:"shards"`

	// SweepInterval is the janitor pass cadence. Default: 30s.
	SweepInterval time.Duration `json:"sweep_interval" koanf:"sweep_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Window:        5 * time.Minute,
		Grace:         10 * time.Minute,
		Debounce:      10 * time.Second,
		MaxIncidents:  10000,
		Shards:        16,
		SweepInterval: 30 * time.Second,
	}
}

type shard struct {
	mu    sync.Mutex
	byKey map[string]*Incident
}

// Engine correlates alerts into incidents and maintains the
// priority-ordered incident set. Fingerprint keys are sharded across
// independent locks so unrelated sources never contend.
type Engine struct {
	cfg    Config
	now    func() time.Time
	shards []*shard

	// Hot-reloadable correlation intervals, guarded separately from the
	// shard locks so a reload never stalls ingest.
	timingMu sync.RWMutex
	window   time.Duration
	grace    time.Duration
	debounce time.Duration

	sizeMu sync.Mutex
	count  int

	onExhausted func()
}

// NewEngine creates a correlation engine.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxIncidents <= 0 {
		cfg.MaxIncidents = def.MaxIncidents
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	e := &Engine{
		cfg:      cfg,
		now:      time.Now,
		window:   cfg.Window,
		grace:    cfg.Grace,
		debounce: cfg.Debounce,
	}
	e.shards = make([]*shard, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = &shard{byKey: make(map[string]*Incident)}
	}
	return e
}

// SetClock overrides the engine clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetExhaustedHook registers a callback fired on table exhaustion.
func (e *Engine) SetExhaustedHook(fn func()) { e.onExhausted = fn }

// SetTimings updates the correlation window, grace period and debounce
// interval. The debounce must stay below the window. Open incidents are
// judged against the new intervals on their next ingest or sweep.
func (e *Engine) SetTimings(window, grace, debounce time.Duration) error {
	if window <= 0 || grace <= 0 || debounce <= 0 {
		return fmt.Errorf("correlate timings must be positive")
	}
	if debounce >= window {
		return fmt.Errorf("debounce %s must be below window %s", debounce, window)
	}
	e.timingMu.Lock()
	e.window, e.grace, e.debounce = window, grace, debounce
	e.timingMu.Unlock()
	return nil
}

func (e *Engine) timings() (window, grace, debounce time.Duration) {
	e.timingMu.RLock()
	defer e.timingMu.RUnlock()
	return e.window, e.grace, e.debounce
}

func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// Ingest claims the alert for exactly one incident and returns the
// updated incident snapshot. The state machine: an open incident matched
// within the window is extended; without a match the janitor closes it;
// a closed incident matched within the grace period re-opens; anything
// else starts a new incident.
func (e *Engine) Ingest(a *alert.Alert) (Outcome, error) {
	if a == nil {
		return Outcome{}, fmt.Errorf("correlate ingest: nil alert")
	}
	fp := Fingerprint{Source: a.Source, Attack: a.Attack.Type}
	key := fp.Key()
	now := e.now()

	sh := e.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	window, grace, debounce := e.timings()

	in, ok := sh.byKey[key]
	if ok {
		// Lazy expiry: the janitor may not have swept yet.
		if in.State == IncidentOpen && now.Sub(in.LastSeen) > window {
			e.closeLocked(in, in.LastSeen.Add(window))
		}
		switch {
		case in.State == IncidentOpen:
			debounced := now.Sub(in.LastSeen) <= debounce
			e.addMemberLocked(in, a, now, debounced)
			return Outcome{Incident: in.clone(), Debounced: debounced}, nil
		case now.Sub(in.ClosedAt) <= grace:
			in.State = IncidentOpen
			in.ClosedAt = time.Time{}
			in.ReopenCount++
			e.addMemberLocked(in, a, now, false)
			return Outcome{Incident: in.clone(), Reopened: true}, nil
		default:
			// Grace expired; the slot is replaced by a fresh incident.
			delete(sh.byKey, key)
			e.sizeMu.Lock()
			e.count--
			e.sizeMu.Unlock()
		}
	}

	if err := e.reserveSlot(sh, key); err != nil {
		return Outcome{}, err
	}
	in = &Incident{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		State:       IncidentOpen,
		OpenedAt:    now,
	}
	e.addMemberLocked(in, a, now, false)
	sh.byKey[key] = in
	return Outcome{Incident: in.clone(), Created: true}, nil
}

// reserveSlot enforces the bounded table. At capacity it evicts one
// stale incident, preferring closed over open, and escalates the
// exhaustion. Eviction never blocks on a foreign shard: contended shards
// are skipped, so there is no lock cycle with concurrent ingests.
func (e *Engine) reserveSlot(holding *shard, key string) error {
	e.sizeMu.Lock()
	exhausted := e.count >= e.cfg.MaxIncidents
	if !exhausted {
		e.count++
	}
	e.sizeMu.Unlock()
	if !exhausted {
		return nil
	}

	if e.onExhausted != nil {
		e.onExhausted()
	}
	logging.Error().
		Int("max_incidents", e.cfg.MaxIncidents).
		Str("fingerprint", key).
		Msg("incident table exhausted, evicting stalest incident")

	if !e.evictStalest(holding, true) && !e.evictStalest(holding, false) {
		return fmt.Errorf("incident table exhausted: %d incidents, none evictable", e.cfg.MaxIncidents)
	}
	return nil
}

// evictStalest removes one incident with the oldest LastSeen among the
// shards it can inspect without blocking, restricted to closed incidents
// when closedOnly is set. The slot freed by the eviction is consumed by
// the caller, so the table count is unchanged. Returns true on eviction.
func (e *Engine) evictStalest(holding *shard, closedOnly bool) bool {
	evictFrom := func(sh *shard) bool {
		var victim string
		var seen time.Time
		found := false
		for k, in := range sh.byKey {
			if closedOnly && in.State != IncidentClosed {
				continue
			}
			if !found || in.LastSeen.Before(seen) {
				victim, seen, found = k, in.LastSeen, true
			}
		}
		if found {
			delete(sh.byKey, victim)
		}
		return found
	}

	if evictFrom(holding) {
		return true
	}
	for _, sh := range e.shards {
		if sh == holding {
			continue
		}
		if !sh.mu.TryLock() {
			continue
		}
		ok := evictFrom(sh)
		sh.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

func (e *Engine) addMemberLocked(in *Incident, a *alert.Alert, now time.Time, debounced bool) {
	in.MemberIDs = append(in.MemberIDs, a.ID)
	in.LastSeen = now
	if debounced {
		in.BurstCount++
	}
	if a.Severity.Rank() > in.MaxSeverity.Rank() {
		in.MaxSeverity = a.Severity
	}
	in.Priority = priority(in)
}

func (e *Engine) closeLocked(in *Incident, at time.Time) {
	in.State = IncidentClosed
	in.ClosedAt = at
}

// priority combines the attack type's base weight, the maximum member
// severity and the member volume into one score in (0,1]. Recomputed on
// every member add; monotone non-decreasing while an incident grows.
func priority(in *Incident) float64 {
	base := in.Fingerprint.Attack.BaseWeight()
	sev := 0.5 + 0.25*float64(in.MaxSeverity.Rank())
	volume := 1 + math.Log1p(float64(len(in.MemberIDs)+in.BurstCount))/10
	p := base * sev * volume
	if p > 1 {
		p = 1
	}
	return p
}

// Get returns a snapshot of the incident currently mapped to the
// fingerprint, or nil.
func (e *Engine) Get(fp Fingerprint) *Incident {
	sh := e.shardFor(fp.Key())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if in, ok := sh.byKey[fp.Key()]; ok {
		return in.clone()
	}
	return nil
}

// Top returns up to n open incidents ordered by priority descending,
// ties broken by recency then ID for determinism.
func (e *Engine) Top(n int) []*Incident {
	out := make([]*Incident, 0, n)
	for _, sh := range e.shards {
		sh.mu.Lock()
		for _, in := range sh.byKey {
			if in.State == IncidentOpen {
				out = append(out, in.clone())
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		if !out[a].LastSeen.Equal(out[b].LastSeen) {
			return out[a].LastSeen.After(out[b].LastSeen)
		}
		return out[a].ID < out[b].ID
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// OpenCount returns the number of open incidents.
func (e *Engine) OpenCount() int {
	n := 0
	for _, sh := range e.shards {
		sh.mu.Lock()
		for _, in := range sh.byKey {
			if in.State == IncidentOpen {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Sweep closes open incidents idle past the window and drops closed ones
// past their grace period. Returns (closed, dropped).
func (e *Engine) Sweep() (int, int) {
	now := e.now()
	window, grace, _ := e.timings()
	closed, dropped := 0, 0
	for _, sh := range e.shards {
		sh.mu.Lock()
		for key, in := range sh.byKey {
			switch in.State {
			case IncidentOpen:
				if now.Sub(in.LastSeen) > window {
					e.closeLocked(in, in.LastSeen.Add(window))
					closed++
				}
			case IncidentClosed:
				if now.Sub(in.ClosedAt) > grace {
					delete(sh.byKey, key)
					dropped++
				}
			}
		}
		sh.mu.Unlock()
	}
	if dropped > 0 {
		e.sizeMu.Lock()
		e.count -= dropped
		e.sizeMu.Unlock()
	}
	return closed, dropped
}

// Serve runs the janitor loop until the context is canceled, making the
// engine a supervisable service.
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			closed, dropped := e.Sweep()
			if closed > 0 || dropped > 0 {
				logging.Debug().
					Int("closed", closed).
					Int("dropped", dropped).
					Msg("incident sweep")
			}
		}
	}
}

// String names the service in supervisor logs.
func (e *Engine) String() string { return "correlate-engine" }
