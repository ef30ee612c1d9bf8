package inference

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sable-ml/nezgo/internal/cache"
	"github.com/sable-ml/nezgo/internal/model"
)

var tracer = otel.Tracer("nezgo-inference")

type datasetIDKey struct{}

// WithDatasetID tags the context with a cache namespace. Sequences
// encoded under different dataset ids never share cache entries.
func WithDatasetID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, datasetIDKey{}, id)
}

// DatasetIDFrom returns the dataset id carried by ctx, or "default".
func DatasetIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(datasetIDKey{}).(string); ok && id != "" {
		return id
	}
	return "default"
}

// Runner drives batched forward passes over pre-tokenized id sequences.
// Input sequences may be ragged; the runner groups them into internal
// batches, pads each batch to its longest member and masks the padding.
// Encoder weights are read-only at inference time, so one model serves
// all workers concurrently.
type Runner struct {
	model             *model.Model
	internalBatchSize int
	workers           int
	padID             int
	cache             cache.VectorCache
}

// NewRunner wraps a model for batched inference. internalBatchSize and
// workers fall back to 32 and NumCPU when non-positive; c may be nil to
// disable caching.
func NewRunner(m *model.Model, internalBatchSize, workers int, c cache.VectorCache) *Runner {
	if internalBatchSize <= 0 {
		internalBatchSize = 32
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		model:             m,
		internalBatchSize: internalBatchSize,
		workers:           workers,
		cache:             c,
	}
}

// HiddenSize reports the width of the vectors EncodeBatch produces.
func (r *Runner) HiddenSize() int {
	return r.model.Config.HiddenSize
}

// EncodeBatch produces one pooled vector per input sequence. Cached
// sequences are served without a forward pass; the rest are grouped
// into padded internal batches and dispatched across workers.
func (r *Runner) EncodeBatch(ctx context.Context, sequences [][]int) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "EncodeBatch")
	defer span.End()

	if len(sequences) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	span.SetAttributes(attribute.Int("sequence_count", len(sequences)))

	out := make([][]float32, len(sequences))
	namespace := DatasetIDFrom(ctx)

	var pending []int
	if r.cache != nil {
		for i, seq := range sequences {
			if vec, ok := r.cache.Get(cache.Key(namespace, seq)); ok {
				out[i] = vec
				cacheHits.Inc()
			} else {
				pending = append(pending, i)
				cacheMisses.Inc()
			}
		}
	} else {
		pending = make([]int, len(sequences))
		for i := range pending {
			pending[i] = i
		}
	}

	if len(pending) == 0 {
		return out, nil
	}

	chunks := make(chan []int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := r.workers
	if workers > len(pending) {
		workers = len(pending)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Keep draining after a failure so the dispatcher never
			// blocks on a dead channel.
			for chunk := range chunks {
				if ctx.Err() != nil {
					continue
				}
				mu.Lock()
				failed := firstErr != nil
				mu.Unlock()
				if failed {
					continue
				}
				if err := r.encodeChunk(chunk, sequences, out, namespace); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					log.Error().Err(err).Int("chunk_size", len(chunk)).Msg("Inference chunk failed")
				}
			}
		}()
	}

dispatch:
	for lo := 0; lo < len(pending); lo += r.internalBatchSize {
		hi := lo + r.internalBatchSize
		if hi > len(pending) {
			hi = len(pending)
		}
		select {
		case chunks <- pending[lo:hi]:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(chunks)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sequencesProcessed.Add(float64(len(pending)))
	return out, nil
}

// encodeChunk pads the selected sequences to a rectangle, runs one
// forward pass and scatters the pooled rows back to their slots.
func (r *Runner) encodeChunk(idxs []int, sequences [][]int, out [][]float32, namespace string) error {
	maxLen := 0
	for _, i := range idxs {
		if len(sequences[i]) > maxLen {
			maxLen = len(sequences[i])
		}
	}

	inputIDs := make([][]int, len(idxs))
	inputMask := make([][]int, len(idxs))
	for j, i := range idxs {
		seq := sequences[i]
		ids := make([]int, maxLen)
		mask := make([]int, maxLen)
		copy(ids, seq)
		for k := len(seq); k < maxLen; k++ {
			ids[k] = r.padID
		}
		for k := 0; k < len(seq); k++ {
			mask[k] = 1
		}
		inputIDs[j] = ids
		inputMask[j] = mask
	}

	result, err := r.model.Forward(inputIDs, inputMask, nil)
	if err != nil {
		return err
	}

	rows := make([][]float32, len(idxs))
	result.Pooled.ExtractTo(rows, 0)

	r.model.Backend.PutTensor(result.Pooled)
	r.model.Backend.PutTensor(result.LastHidden)

	for j, i := range idxs {
		out[i] = rows[j]
		if r.cache != nil {
			r.cache.Put(cache.Key(namespace, sequences[i]), rows[j])
		}
	}
	return nil
}
