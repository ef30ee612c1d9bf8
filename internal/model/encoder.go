package model

import (
	"time"

	"github.com/sable-ml/nezgo/internal/device"
)

// EncoderOutput bundles what the layer stack produced. Hidden and
// Attentions are nil unless the corresponding config flag is set; when
// present they are ordered by layer execution (layer 0 first).
type EncoderOutput struct {
	Final      device.Tensor
	Hidden     []device.Tensor
	Attentions []*AttentionProbs
}

// Encoder stacks transformer layers and threads hidden state through
// them in order.
type Encoder struct {
	Backend device.Backend
	Layers  []*TransformerLayer

	// Adapter projects embeddings to the hidden width once before the
	// first layer; nil when the widths already match.
	Adapter     device.Tensor
	AdapterBias []float32

	outputHidden     bool
	outputAttentions bool
}

func NewEncoder(config Config, backend device.Backend) *Encoder {
	layers := make([]*TransformerLayer, config.NumHiddenLayers)
	for i := range layers {
		layers[i] = NewTransformerLayer(config, backend)
	}

	e := &Encoder{
		Backend:          backend,
		Layers:           layers,
		outputHidden:     config.OutputHiddenStates,
		outputAttentions: config.OutputAttentions,
	}

	if config.embeddingSize() != config.HiddenSize {
		e.Adapter = backend.NewTensor(config.embeddingSize(), config.HiddenSize, nil)
		e.AdapterBias = make([]float32, config.HiddenSize)
	}

	return e
}

// Forward runs the stack over one rectangular batch. The input is
// (batch*seqLen, embeddingSize); the caller keeps ownership of it.
func (e *Encoder) Forward(embeddingOutput device.Tensor, batch, seqLen int, mask *AttentionMask) *EncoderOutput {
	prev := embeddingOutput
	if e.Adapter != nil {
		adapted := project(e.Backend, embeddingOutput, e.Adapter, e.AdapterBias)
		prev = adapted
	}

	out := &EncoderOutput{}
	if e.outputHidden {
		out.Hidden = make([]device.Tensor, 0, len(e.Layers))
	}
	if e.outputAttentions {
		out.Attentions = make([]*AttentionProbs, 0, len(e.Layers))
	}

	backendName := e.Backend.Name()
	for _, layer := range e.Layers {
		start := time.Now()
		layerOutput, probs := layer.Forward(prev, batch, seqLen, mask, e.outputAttentions)
		LayerDuration.WithLabelValues("transformer", backendName).Observe(time.Since(start).Seconds())

		if e.outputHidden {
			out.Hidden = append(out.Hidden, layerOutput)
		} else if prev != embeddingOutput {
			// Previous activation is no longer referenced.
			e.Backend.PutTensor(prev)
		}
		if e.outputAttentions {
			out.Attentions = append(out.Attentions, probs)
		}
		prev = layerOutput
	}

	out.Final = prev
	return out
}
