// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package baseline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelsec/kestrel/internal/feature"
)

// ErrInsufficientData indicates the active window holds fewer samples than
// the configured minimum. Callers must fall back to a conservative default
// score rather than treating the empty baseline as "no deviation".
var ErrInsufficientData = errors.New("baseline has insufficient data")

// Stats holds the running statistics for one feature.
type Stats struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
	MAD    float64 `json:"mad"`
}

// Profile is an immutable point-in-time view of the baseline. Stats are
// aligned with the schema by index. Profiles are shared freely across
// goroutines; they are never mutated after construction.
type Profile struct {
	Schema           feature.Schema `json:"schema"`
	Features         []Stats        `json:"features"`
	SampleCount      int            `json:"sample_count"`
	InsufficientData bool           `json:"insufficient_data"`
	Version          uint64         `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Get returns the stats for the named feature.
func (p *Profile) Get(name string) (Stats, bool) {
	i := p.Schema.Index(name)
	if i < 0 || i >= len(p.Features) {
		return Stats{}, false
	}
	return p.Features[i], true
}

// Config configures the baseline store.
type Config struct {
	// WindowSize bounds the sliding window used for median/MAD (and for
	// retraining matrices). Default: 500.
	WindowSize int

	// MinSamples is the sample count below which snapshots are flagged
	// InsufficientData. Default: 30.
	MinSamples int

	// SnapshotEvery controls how many updates may elapse before the
	// published snapshot is rebuilt. Readers may observe a snapshot that is
	// at most this many updates stale; this keeps the hot path O(dims) per
	// update instead of re-sorting the window every time. Default: 32.
	SnapshotEvery int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:    500,
		MinSamples:    30,
		SnapshotEvery: 32,
	}
}

// accumulator is the single piece of mutable baseline state. Mean/variance
// are maintained incrementally with Welford's method; median and MAD are
// computed exactly over the bounded ring of the most recent WindowSize
// samples when a snapshot is (re)built. Both behaviors are deterministic and
// reproducible for a given input order.
type accumulator struct {
	count int
	mean  []float64
	m2    []float64

	ring [][]float64 // most recent min(count, WindowSize) samples
	pos  int         // next write position in ring
}

func newAccumulator(dims, window int) *accumulator {
	return &accumulator{
		mean: make([]float64, dims),
		m2:   make([]float64, dims),
		ring: make([][]float64, 0, window),
	}
}

// fold adds one sample. values must already be validated and dimension-exact.
func (a *accumulator) fold(values []float64, window int) {
	a.count++
	for i, x := range values {
		delta := x - a.mean[i]
		a.mean[i] += delta / float64(a.count)
		a.m2[i] += delta * (x - a.mean[i])
	}

	row := make([]float64, len(values))
	copy(row, values)
	if len(a.ring) < window {
		a.ring = append(a.ring, row)
	} else {
		a.ring[a.pos] = row
		a.pos = (a.pos + 1) % window
	}
}

// Store maintains the running baseline statistics. One active profile is
// always readable without locking via an atomically swapped pointer; the
// mutable accumulator is serialized behind a single mutex so scoring never
// blocks on concurrent updates.
type Store struct {
	cfg    Config
	schema feature.Schema

	mu              sync.Mutex
	acc             *accumulator
	staged          *stagedState
	updatesSinceSet int
	version         uint64

	active atomic.Pointer[Profile]
}

// stagedState is a fully built replacement accumulator + profile, produced
// off the hot path by the feedback loop and swapped in atomically by
// Promote. Discarded wholesale on cancellation.
type stagedState struct {
	acc     *accumulator
	profile *Profile
}

// NewStore creates a baseline store for the given schema.
func NewStore(schema feature.Schema, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = def.SnapshotEvery
	}

	s := &Store{
		cfg:    cfg,
		schema: schema,
		acc:    newAccumulator(len(schema), cfg.WindowSize),
	}
	s.active.Store(s.buildProfile(s.acc))
	return s
}

// Update folds a feature vector into the active window's running statistics.
func (s *Store) Update(v *feature.Vector) error {
	if err := v.Validate(s.schema); err != nil {
		return fmt.Errorf("baseline update: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.acc.fold(v.Values, s.cfg.WindowSize)
	s.updatesSinceSet++
	if s.updatesSinceSet >= s.cfg.SnapshotEvery || s.acc.count <= s.cfg.MinSamples {
		s.publishLocked()
	}
	return nil
}

// SetMinSamples updates the sample count below which snapshots carry the
// InsufficientData flag, and republishes the active profile so the new
// bound takes effect immediately.
func (s *Store) SetMinSamples(n int) error {
	if n <= 0 || n > s.cfg.WindowSize {
		return fmt.Errorf("min samples %d outside (0, %d]", n, s.cfg.WindowSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MinSamples = n
	s.publishLocked()
	return nil
}

// publishLocked rebuilds and atomically publishes the active profile.
func (s *Store) publishLocked() {
	s.version++
	p := s.buildProfile(s.acc)
	p.Version = s.version
	s.active.Store(p)
	s.updatesSinceSet = 0
}

// buildProfile derives an immutable profile from an accumulator.
func (s *Store) buildProfile(acc *accumulator) *Profile {
	dims := len(s.schema)
	p := &Profile{
		Schema:           s.schema,
		Features:         make([]Stats, dims),
		SampleCount:      acc.count,
		InsufficientData: acc.count < s.cfg.MinSamples,
		CreatedAt:        time.Now(),
	}

	scratch := make([]float64, len(acc.ring))
	for i := 0; i < dims; i++ {
		st := Stats{Mean: acc.mean[i]}
		if acc.count > 1 {
			st.Std = math.Sqrt(acc.m2[i] / float64(acc.count-1))
		}
		if len(acc.ring) > 0 {
			for j, row := range acc.ring {
				scratch[j] = row[i]
			}
			st.Median = exactMedian(scratch)
			for j, row := range acc.ring {
				scratch[j] = math.Abs(row[i] - st.Median)
			}
			st.MAD = exactMedian(scratch)
		}
		p.Features[i] = st
	}
	return p
}

// exactMedian sorts a copy of xs and returns the middle value (mean of the
// two middle values for even lengths).
func exactMedian(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Snapshot returns the current immutable profile for concurrent read. The
// returned profile carries InsufficientData when the window is below the
// configured minimum sample count.
func (s *Store) Snapshot() *Profile {
	return s.active.Load()
}

// WindowMatrix returns a copy of the current window samples, ordered oldest
// to newest. Used to (re)train the structural detector off the hot path.
func (s *Store) WindowMatrix() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]float64, 0, len(s.acc.ring))
	n := len(s.acc.ring)
	start := 0
	if n == s.cfg.WindowSize {
		start = s.pos()
	}
	for i := 0; i < n; i++ {
		src := s.acc.ring[(start+i)%n]
		row := make([]float64, len(src))
		copy(row, src)
		out = append(out, row)
	}
	return out
}

func (s *Store) pos() int {
	return s.acc.pos
}

// Stage builds a staged profile (and replacement accumulator) from a batch
// of vectors without touching the active profile. A later Promote swaps it
// in atomically; Discard throws it away.
func (s *Store) Stage(batch []*feature.Vector) error {
	acc := newAccumulator(len(s.schema), s.cfg.WindowSize)
	for _, v := range batch {
		if err := v.Validate(s.schema); err != nil {
			return fmt.Errorf("baseline stage: %w", err)
		}
		acc.fold(v.Values, s.cfg.WindowSize)
	}
	profile := s.buildProfile(acc)

	s.mu.Lock()
	s.staged = &stagedState{acc: acc, profile: profile}
	s.mu.Unlock()
	return nil
}

// HasStaged reports whether a staged profile is waiting for promotion.
func (s *Store) HasStaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged != nil
}

// Promote atomically swaps the staged profile (and its accumulator) to
// active. In-flight readers keep the profile pointer they already loaded;
// no reader ever observes a half-updated baseline. Returns false when
// nothing is staged.
func (s *Store) Promote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return false
	}
	s.acc = s.staged.acc
	s.version++
	p := s.staged.profile
	p.Version = s.version
	s.active.Store(p)
	s.staged = nil
	s.updatesSinceSet = 0
	return true
}

// Discard drops any staged state, e.g. when a retraining job is cancelled.
// The active profile is untouched.
func (s *Store) Discard() {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
}

// SampleCount returns the number of samples folded into the active window.
func (s *Store) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.count
}
