package model

import (
	"math"
	"sync"

	"github.com/sable-ml/nezgo/internal/device"
	"github.com/sable-ml/nezgo/internal/simd"
)

// AttentionProbs holds one layer's attention probabilities, logically
// shaped (batch, heads, seq, seq) and stored flattened.
type AttentionProbs struct {
	Batch  int
	Heads  int
	SeqLen int

	data []float32
}

func newAttentionProbs(batch, heads, seqLen int) *AttentionProbs {
	return &AttentionProbs{
		Batch:  batch,
		Heads:  heads,
		SeqLen: seqLen,
		data:   make([]float32, batch*heads*seqLen*seqLen),
	}
}

// Row returns the probability row over keys for (batch, head, query).
func (p *AttentionProbs) Row(b, h, q int) []float32 {
	base := ((b*p.Heads+h)*p.SeqLen + q) * p.SeqLen
	return p.data[base : base+p.SeqLen]
}

// At returns the probability for (batch, head, query, key).
func (p *AttentionProbs) At(b, h, q, k int) float32 {
	return p.Row(b, h, q)[k]
}

// RelativeSelfAttention computes multi-head scaled dot-product attention
// with a relative-position bias added to the raw scores and, in the
// value-folding mode, to the aggregated context.
type RelativeSelfAttention struct {
	Backend  device.Backend
	NumHeads int
	HeadSize int
	AllSize  int

	Query device.Tensor // (hidden, hidden)
	Key   device.Tensor
	Value device.Tensor

	QueryBias []float32
	KeyBias   []float32
	ValueBias []float32

	RelPos  *RelativePositionBias
	Dropout *Dropout
}

func NewRelativeSelfAttention(config Config, backend device.Backend) *RelativeSelfAttention {
	h := config.HiddenSize
	return &RelativeSelfAttention{
		Backend:   backend,
		NumHeads:  config.NumAttentionHeads,
		HeadSize:  config.HeadSize(),
		AllSize:   h,
		Query:     backend.NewTensor(h, h, nil),
		Key:       backend.NewTensor(h, h, nil),
		Value:     backend.NewTensor(h, h, nil),
		QueryBias: make([]float32, h),
		KeyBias:   make([]float32, h),
		ValueBias: make([]float32, h),
		RelPos:    NewRelativePositionBias(config),
		Dropout:   NewDropout(config.AttentionProbsDropoutProb),
	}
}

// Forward runs attention over a rectangular batch. hidden is
// (batch*seqLen, hidden); mask must cover the same batch. The returned
// context tensor has the input shape. Attention probabilities are
// captured post-softmax (before dropout) when wantProbs is set.
func (s *RelativeSelfAttention) Forward(hidden device.Tensor, batch, seqLen int, mask *AttentionMask, wantProbs bool) (device.Tensor, *AttentionProbs) {
	rows, cols := hidden.Dims()

	queryLayer := project(s.Backend, hidden, s.Query, s.QueryBias)
	keyLayer := project(s.Backend, hidden, s.Key, s.KeyBias)
	valueLayer := project(s.Backend, hidden, s.Value, s.ValueBias)

	output := s.Backend.NewTensor(rows, cols, nil)

	qData := queryLayer.Data()
	kData := keyLayer.Data()
	vData := valueLayer.Data()
	outData := output.Data()

	buckets := s.RelPos.BucketsFor(seqLen)
	scale := float32(1.0 / math.Sqrt(float64(s.HeadSize)))

	var probs *AttentionProbs
	if wantProbs {
		probs = newAttentionProbs(batch, s.NumHeads, seqLen)
	}

	var wg sync.WaitGroup
	for b := 0; b < batch; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			s.attendSequence(b, seqLen, cols, qData, kData, vData, outData, mask, buckets, scale, probs)
		}(b)
	}
	wg.Wait()

	s.Backend.PutTensor(queryLayer)
	s.Backend.PutTensor(keyLayer)
	s.Backend.PutTensor(valueLayer)

	return output, probs
}

// attendSequence computes every head of one batch element.
func (s *RelativeSelfAttention) attendSequence(b, seqLen, cols int, qData, kData, vData, outData []float32, mask *AttentionMask, buckets [][]int, scale float32, probs *AttentionProbs) {
	offset := b * seqLen
	maskAdd := mask.Keys(b)
	scores := make([]float32, seqLen)

	for h := 0; h < s.NumHeads; h++ {
		headOff := h * s.HeadSize
		scoreBias := s.RelPos.ScoreBias[h]

		for i := 0; i < seqLen; i++ {
			qIdx := (offset+i)*cols + headOff
			qRow := qData[qIdx : qIdx+s.HeadSize]
			bucketRow := buckets[i]

			// Raw score = scaled dot product + relative bias + key mask.
			for j := 0; j < seqLen; j++ {
				kIdx := (offset+j)*cols + headOff
				kRow := kData[kIdx : kIdx+s.HeadSize]
				scores[j] = simd.DotProduct(qRow, kRow)*scale + scoreBias[bucketRow[j]] + maskAdd[j]
			}

			simd.SoftmaxExact(scores)

			if probs != nil {
				copy(probs.Row(b, h, i), scores)
			}

			s.Dropout.ForwardSlice(scores)

			outIdx := (offset+i)*cols + headOff
			outRow := outData[outIdx : outIdx+s.HeadSize]
			for j := 0; j < seqLen; j++ {
				p := scores[j]
				if p == 0 {
					continue
				}
				vIdx := (offset+j)*cols + headOff
				simd.VecAddScaled(outRow, vData[vIdx:vIdx+s.HeadSize], p)
				if s.RelPos.ValueBias != nil {
					simd.VecAddScaled(outRow, s.RelPos.ValueBias[bucketRow[j]], p)
				}
			}
		}
	}
}

// AttentionOutput is the dense + residual + norm sub-block that closes
// the attention half of a transformer layer.
type AttentionOutput struct {
	Backend   device.Backend
	Dense     device.Tensor
	Bias      []float32
	LayerNorm *LayerNorm
	Dropout   *Dropout
}

func NewAttentionOutput(config Config, backend device.Backend) *AttentionOutput {
	return &AttentionOutput{
		Backend:   backend,
		Dense:     backend.NewTensor(config.HiddenSize, config.HiddenSize, nil),
		Bias:      make([]float32, config.HiddenSize),
		LayerNorm: NewLayerNorm(config.HiddenSize),
		Dropout:   NewDropout(config.HiddenDropoutProb),
	}
}

func (o *AttentionOutput) Forward(hiddenStates, inputTensor device.Tensor) device.Tensor {
	hiddenStates = project(o.Backend, hiddenStates, o.Dense, o.Bias)
	o.Dropout.Forward(hiddenStates)
	// Residual connection in-place
	hiddenStates.Add(inputTensor)
	return o.LayerNorm.Forward(hiddenStates)
}

// project computes input * weight + bias into a pooled tensor.
func project(backend device.Backend, input, weight device.Tensor, bias []float32) device.Tensor {
	r, _ := input.Dims()
	_, wc := weight.Dims()

	output := backend.GetTensor(r, wc)
	output.Mul(input, weight)

	if bias != nil {
		output.AddBias(bias)
	}

	return output
}
