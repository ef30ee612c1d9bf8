package model

import (
	"github.com/sable-ml/nezgo/internal/device"
)

// Pooler projects the first-position hidden vector of every sequence
// through a dense layer and tanh, producing one fixed-size vector per
// sequence.
type Pooler struct {
	Backend device.Backend
	Dense   device.Tensor
	Bias    []float32
}

func NewPooler(config Config, backend device.Backend) *Pooler {
	return &Pooler{
		Backend: backend,
		Dense:   backend.NewTensor(config.HiddenSize, config.HiddenSize, nil),
		Bias:    make([]float32, config.HiddenSize),
	}
}

// Forward pools a (batch*seqLen, hidden) sequence output into a
// (batch, hidden) tensor.
func (p *Pooler) Forward(sequenceOutput device.Tensor, batch, seqLen int) device.Tensor {
	// First position of each sequence.
	indices := make([]int, batch)
	for b := range indices {
		indices[b] = b * seqLen
	}
	firstTokens := sequenceOutput.Gather(indices)

	_, hidden := p.Dense.Dims()
	result := p.Backend.NewTensor(batch, hidden, nil)
	result.Mul(firstTokens, p.Dense)
	result.AddBias(p.Bias)
	result.Tanh()

	p.Backend.PutTensor(firstTokens)
	return result
}
