package model

import (
	"math/rand"

	"github.com/sable-ml/nezgo/internal/device"
)

// Dropout applies inverted dropout while training and is the identity at
// inference. Training mode is toggled on the model and propagated here.
type Dropout struct {
	Rate     float32
	Training bool
}

func NewDropout(rate float32) *Dropout {
	return &Dropout{Rate: rate}
}

// Forward applies dropout in-place to a host-visible tensor.
func (d *Dropout) Forward(t device.Tensor) device.Tensor {
	if data := t.Data(); data != nil {
		d.ForwardSlice(data)
	}
	return t
}

// ForwardSlice applies dropout in-place to a raw row.
func (d *Dropout) ForwardSlice(data []float32) {
	if !d.Training || d.Rate <= 0 {
		return
	}
	keep := 1.0 - d.Rate
	inv := 1.0 / keep
	for i := range data {
		if rand.Float32() < d.Rate {
			data[i] = 0
		} else {
			data[i] *= inv
		}
	}
}

// LayerNorm holds the learned gain and shift of one normalization.
type LayerNorm struct {
	Gamma []float32
	Beta  []float32
	Eps   float32
}

func NewLayerNorm(size int) *LayerNorm {
	gamma := make([]float32, size)
	for i := range gamma {
		gamma[i] = 1.0
	}
	return &LayerNorm{
		Gamma: gamma,
		Beta:  make([]float32, size),
		Eps:   1e-12,
	}
}

// Forward normalizes in-place and returns the input tensor.
func (l *LayerNorm) Forward(input device.Tensor) device.Tensor {
	input.LayerNorm(l.Gamma, l.Beta, l.Eps)
	return input
}
