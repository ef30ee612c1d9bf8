package model

import (
	"fmt"
	"sync"
)

// RelativeBuckets computes the bucket index matrix for a sequence.
// The entry at (i, j) is clamp(j-i, -maxDistance, maxDistance) + maxDistance,
// so distance 0 maps to the center bucket and distances beyond the bound
// saturate at buckets 0 and 2*maxDistance.
func RelativeBuckets(seqLen, maxDistance int) [][]int {
	if seqLen < 1 {
		panic(fmt.Sprintf("RelativeBuckets: seqLen must be >= 1, got %d", seqLen))
	}
	if maxDistance < 0 {
		panic(fmt.Sprintf("RelativeBuckets: maxDistance must be >= 0, got %d", maxDistance))
	}

	buckets := make([][]int, seqLen)
	for i := 0; i < seqLen; i++ {
		row := make([]int, seqLen)
		for j := 0; j < seqLen; j++ {
			d := j - i
			if d > maxDistance {
				d = maxDistance
			} else if d < -maxDistance {
				d = -maxDistance
			}
			row[j] = d + maxDistance
		}
		buckets[i] = row
	}
	return buckets
}

// RelativePositionBias holds the learned per-bucket tables of one
// attention layer and caches bucket matrices per sequence length.
//
// ScoreBias maps (head, bucket) to a scalar added to the raw attention
// score. ValueBias maps a bucket to a headSize-wide vector aggregated
// into the context; it is nil unless the value-folding mode is active.
type RelativePositionBias struct {
	MaxDistance int
	NumBuckets  int // 2*MaxDistance + 1

	ScoreBias [][]float32 // [numHeads][NumBuckets]
	ValueBias [][]float32 // [NumBuckets][headSize], nil in scores-only mode

	mu      sync.RWMutex
	buckets map[int][][]int
}

// NewRelativePositionBias allocates zeroed tables for one layer.
func NewRelativePositionBias(config Config) *RelativePositionBias {
	numBuckets := 2*config.MaxRelativeDistance + 1

	scoreBias := make([][]float32, config.NumAttentionHeads)
	for h := range scoreBias {
		scoreBias[h] = make([]float32, numBuckets)
	}

	var valueBias [][]float32
	if config.RelativeMode == RelativeScoresAndValues {
		valueBias = make([][]float32, numBuckets)
		for b := range valueBias {
			valueBias[b] = make([]float32, config.HeadSize())
		}
	}

	return &RelativePositionBias{
		MaxDistance: config.MaxRelativeDistance,
		NumBuckets:  numBuckets,
		ScoreBias:   scoreBias,
		ValueBias:   valueBias,
		buckets:     make(map[int][][]int),
	}
}

// BucketsFor returns the bucket matrix for seqLen, building it once per
// sequence length. Safe for concurrent forward passes.
func (r *RelativePositionBias) BucketsFor(seqLen int) [][]int {
	r.mu.RLock()
	b, ok := r.buckets[seqLen]
	r.mu.RUnlock()
	if ok {
		return b
	}

	b = RelativeBuckets(seqLen, r.MaxDistance)

	r.mu.Lock()
	r.buckets[seqLen] = b
	r.mu.Unlock()
	return b
}
