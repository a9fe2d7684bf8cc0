// Kestrel - Real-Time Telemetry Anomaly Detection Pipeline
// Copyright 2026 Kestrel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelsec/kestrel

package detect

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/kestrelsec/kestrel/internal/feature"
)

// StructuralConfig configures the structural-outlier detector.
type StructuralConfig struct {
	// NumTrees is the forest size. Default: 100.
	NumTrees int `json:"num_trees"`

	// SampleSize is the per-tree subsample size. Default: 256.
	SampleSize int `json:"sample_size"`

	// Seed drives the partitioning PRNG. A fixed seed keeps training
	// deterministic and reproducible for a given window.
	Seed int64 `json:"seed"`

	// Threshold is the detector's individual anomaly threshold. Default: 0.6.
	Threshold float64 `json:"threshold"`
}

// DefaultStructuralConfig returns sensible defaults.
func DefaultStructuralConfig() StructuralConfig {
	return StructuralConfig{
		NumTrees:   100,
		SampleSize: 256,
		Seed:       1,
		Threshold:  0.6,
	}
}

// iNode is one node of an isolation tree.
type iNode struct {
	leaf     bool
	size     int
	dim      int
	splitVal float64
	left     *iNode
	right    *iNode
}

// forest is an immutable trained isolation forest plus the per-dimension
// training statistics used for attribution. Swapped wholesale on retrain.
type forest struct {
	trees      []*iNode
	sampleSize int
	trainMean  []float64
	trainStd   []float64
}

// StructuralDetector isolates points that are "few and different" in feature
// space by random axis-aligned partitioning: anomalies have short average
// path lengths across the forest. The trained forest is immutable; Fit
// builds a replacement and swaps it atomically, so scoring is lock-free
// against retraining.
type StructuralDetector struct {
	schema feature.Schema
	cfg    StructuralConfig

	mu     sync.RWMutex
	forest *forest
}

// NewStructuralDetector creates an untrained structural detector. Until Fit
// is called with enough window samples, Score returns ErrNotTrained and the
// ensemble excludes it.
func NewStructuralDetector(schema feature.Schema, cfg StructuralConfig) *StructuralDetector {
	def := DefaultStructuralConfig()
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = def.NumTrees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &StructuralDetector{schema: schema, cfg: cfg}
}

// Model returns the detector identity.
func (d *StructuralDetector) Model() ModelID { return ModelStructural }

// Threshold returns the individual anomaly threshold.
func (d *StructuralDetector) Threshold() float64 { return d.cfg.Threshold }

// Fit trains a replacement forest from the window matrix and swaps it in.
// Training is deterministic for a given matrix and seed.
func (d *StructuralDetector) Fit(matrix [][]float64) error {
	if len(matrix) < 2 {
		return fmt.Errorf("structural fit: need at least 2 samples, got %d", len(matrix))
	}
	dims := len(d.schema)
	for _, row := range matrix {
		if len(row) != dims {
			return fmt.Errorf("structural fit: row has %d dims, schema requires %d", len(row), dims)
		}
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	sampleSize := d.cfg.SampleSize
	if sampleSize > len(matrix) {
		sampleSize = len(matrix)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))

	f := &forest{
		trees:      make([]*iNode, d.cfg.NumTrees),
		sampleSize: sampleSize,
		trainMean:  make([]float64, dims),
		trainStd:   make([]float64, dims),
	}

	for i := 0; i < d.cfg.NumTrees; i++ {
		idxs := rng.Perm(len(matrix))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range idxs {
			sample[j] = matrix[idx]
		}
		f.trees[i] = buildTree(sample, 0, heightLimit, rng)
	}

	// Per-dimension training stats for TopDimensions attribution.
	n := float64(len(matrix))
	for _, row := range matrix {
		for j, x := range row {
			f.trainMean[j] += x / n
		}
	}
	for _, row := range matrix {
		for j, x := range row {
			delta := x - f.trainMean[j]
			f.trainStd[j] += delta * delta / n
		}
	}
	for j := range f.trainStd {
		f.trainStd[j] = math.Sqrt(f.trainStd[j])
	}

	d.mu.Lock()
	d.forest = f
	d.mu.Unlock()
	return nil
}

// Trained reports whether a forest is available.
func (d *StructuralDetector) Trained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.forest != nil
}

// Score returns the isolation score 2^(-E[h(x)]/c(n)) in [0,1].
func (d *StructuralDetector) Score(_ context.Context, v *feature.Vector, _ *Context) (ModelScore, error) {
	d.mu.RLock()
	f := d.forest
	d.mu.RUnlock()

	if f == nil {
		return ModelScore{}, ErrNotTrained
	}

	sum := 0.0
	for _, root := range f.trees {
		sum += pathLength(root, v.Values, 0)
	}
	avgPath := sum / float64(len(f.trees))
	c := avgUnsuccessfulSearch(f.sampleSize)
	if c <= 0 {
		c = 1
	}
	score := math.Pow(2, -avgPath/c)
	return ModelScore{Model: ModelStructural, Raw: avgPath, Normalized: score}, nil
}

// TopDimensions ranks dimensions by deviation from the training sample,
// approximating the forest's per-feature contribution.
func (d *StructuralDetector) TopDimensions(v *feature.Vector, _ *Context, k int) []string {
	d.mu.RLock()
	f := d.forest
	d.mu.RUnlock()
	if f == nil {
		return nil
	}

	type ranked struct {
		name string
		dev  float64
	}
	devs := make([]ranked, len(d.schema))
	for i, name := range d.schema {
		std := f.trainStd[i]
		if std < 1e-8 {
			std = 1e-8
		}
		devs[i] = ranked{name: name, dev: math.Abs(v.Values[i]-f.trainMean[i]) / std}
	}
	sort.Slice(devs, func(a, b int) bool {
		if devs[a].dev != devs[b].dev {
			return devs[a].dev > devs[b].dev
		}
		return devs[a].name < devs[b].name
	})

	if k > len(devs) {
		k = len(devs)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = devs[i].name
	}
	return out
}

// buildTree recursively partitions the sample with random splits.
func buildTree(sample [][]float64, height, heightLimit int, rng *rand.Rand) *iNode {
	if len(sample) <= 1 || height >= heightLimit {
		return &iNode{leaf: true, size: len(sample)}
	}

	dim := rng.Intn(len(sample[0]))
	minv, maxv := sample[0][dim], sample[0][dim]
	for _, row := range sample[1:] {
		if row[dim] < minv {
			minv = row[dim]
		}
		if row[dim] > maxv {
			maxv = row[dim]
		}
	}
	if minv == maxv {
		return &iNode{leaf: true, size: len(sample)}
	}

	split := minv + rng.Float64()*(maxv-minv)
	left := make([][]float64, 0, len(sample))
	right := make([][]float64, 0, len(sample))
	for _, row := range sample {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iNode{leaf: true, size: len(sample)}
	}

	return &iNode{
		dim:      dim,
		splitVal: split,
		left:     buildTree(left, height+1, heightLimit, rng),
		right:    buildTree(right, height+1, heightLimit, rng),
	}
}

// pathLength walks one tree and returns the adjusted path length for x.
func pathLength(node *iNode, x []float64, height int) float64 {
	if node.leaf {
		if node.size <= 1 {
			return float64(height)
		}
		return float64(height) + avgUnsuccessfulSearch(node.size)
	}
	if x[node.dim] < node.splitVal {
		return pathLength(node.left, x, height+1)
	}
	return pathLength(node.right, x, height+1)
}

// avgUnsuccessfulSearch is c(n), the average path length of an unsuccessful
// BST search, used to normalize isolation path lengths.
func avgUnsuccessfulSearch(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
}
