package model

import (
	"github.com/sable-ml/nezgo/internal/device"
)

// TransformerLayer is one encoder block: relative self-attention with a
// residual + norm, followed by a position-wise feed-forward sub-layer
// with its own residual + norm.
type TransformerLayer struct {
	Attention       *RelativeSelfAttention
	AttentionOutput *AttentionOutput
	Intermediate    *Intermediate
	Output          *FeedForwardOutput
}

func NewTransformerLayer(config Config, backend device.Backend) *TransformerLayer {
	return &TransformerLayer{
		Attention:       NewRelativeSelfAttention(config, backend),
		AttentionOutput: NewAttentionOutput(config, backend),
		Intermediate:    NewIntermediate(config, backend),
		Output:          NewFeedForwardOutput(config, backend),
	}
}

// Forward threads one rectangular batch through the block and returns
// the layer output plus the attention probabilities when requested.
func (l *TransformerLayer) Forward(hiddenStates device.Tensor, batch, seqLen int, mask *AttentionMask, wantProbs bool) (device.Tensor, *AttentionProbs) {
	context, probs := l.Attention.Forward(hiddenStates, batch, seqLen, mask, wantProbs)
	attnOut := l.AttentionOutput.Forward(context, hiddenStates)
	l.Attention.Backend.PutTensor(context)

	intermediate := l.Intermediate.Forward(attnOut)
	out := l.Output.Forward(intermediate, attnOut)
	l.Attention.Backend.PutTensor(intermediate)
	l.Attention.Backend.PutTensor(attnOut)

	return out, probs
}

// Intermediate is the expanding dense + activation of the feed-forward
// sub-layer.
type Intermediate struct {
	Backend    device.Backend
	Dense      device.Tensor
	Bias       []float32
	Activation Activation
}

func NewIntermediate(config Config, backend device.Backend) *Intermediate {
	act := config.HiddenAct
	if act == "" {
		act = ActGELU
	}
	return &Intermediate{
		Backend:    backend,
		Dense:      backend.NewTensor(config.HiddenSize, config.IntermediateSize, nil),
		Bias:       make([]float32, config.IntermediateSize),
		Activation: act,
	}
}

func (i *Intermediate) Forward(hiddenStates device.Tensor) device.Tensor {
	hiddenStates = project(i.Backend, hiddenStates, i.Dense, i.Bias)
	switch i.Activation {
	case ActReLU:
		hiddenStates.Relu()
	case ActTanh:
		hiddenStates.Tanh()
	default:
		hiddenStates.Gelu()
	}
	return hiddenStates
}

// FeedForwardOutput is the contracting dense + residual + norm that
// closes the feed-forward sub-layer.
type FeedForwardOutput struct {
	Backend   device.Backend
	Dense     device.Tensor
	Bias      []float32
	LayerNorm *LayerNorm
	Dropout   *Dropout
}

func NewFeedForwardOutput(config Config, backend device.Backend) *FeedForwardOutput {
	return &FeedForwardOutput{
		Backend:   backend,
		Dense:     backend.NewTensor(config.IntermediateSize, config.HiddenSize, nil),
		Bias:      make([]float32, config.HiddenSize),
		LayerNorm: NewLayerNorm(config.HiddenSize),
		Dropout:   NewDropout(config.HiddenDropoutProb),
	}
}

func (o *FeedForwardOutput) Forward(hiddenStates, inputTensor device.Tensor) device.Tensor {
	hiddenStates = project(o.Backend, hiddenStates, o.Dense, o.Bias)
	o.Dropout.Forward(hiddenStates)
	// Residual connection in-place
	hiddenStates.Add(inputTensor)
	return o.LayerNorm.Forward(hiddenStates)
}
