package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sable-ml/nezgo/internal/device"
)

func TestEncoderZeroLayersIsIdentity(t *testing.T) {
	config := DefaultTinyConfig()
	config.HiddenSize = 16
	config.NumHiddenLayers = 0

	backend := device.NewCPUBackend()
	enc := NewEncoder(config, backend)
	require.Nil(t, enc.Adapter)

	const batch, seqLen = 2, 3
	input := randomHidden(backend, batch*seqLen, config.HiddenSize)
	want := input.ToHost()

	out := enc.Forward(input, batch, seqLen, allValidMask(batch, seqLen))
	require.Equal(t, want, out.Final.ToHost(),
		"zero-layer encoder must return its input unchanged")
}

func TestEncoderZeroLayersWithAdapter(t *testing.T) {
	config := DefaultTinyConfig()
	config.EmbeddingSize = 8
	config.HiddenSize = 16
	config.NumHiddenLayers = 0

	backend := device.NewCPUBackend()
	enc := NewEncoder(config, backend)
	require.NotNil(t, enc.Adapter)

	const batch, seqLen = 2, 3
	input := randomHidden(backend, batch*seqLen, config.EmbeddingSize)

	out := enc.Forward(input, batch, seqLen, allValidMask(batch, seqLen))
	r, c := out.Final.Dims()
	require.Equal(t, batch*seqLen, r)
	require.Equal(t, config.HiddenSize, c, "adapter must project to hidden width")
}

func TestEncoderCollectsPerLayerOutputs(t *testing.T) {
	config := DefaultTinyConfig()
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 3
	config.MaxRelativeDistance = 4
	config.OutputHiddenStates = true
	config.OutputAttentions = true

	backend := device.NewCPUBackend()
	enc := NewEncoder(config, backend)

	const batch, seqLen = 2, 4
	input := randomHidden(backend, batch*seqLen, config.HiddenSize)

	out := enc.Forward(input, batch, seqLen, allValidMask(batch, seqLen))

	require.Len(t, out.Hidden, 3)
	require.Len(t, out.Attentions, 3)

	// Collection order matches execution order: the last entry is the
	// final output.
	require.Equal(t, out.Final.ToHost(), out.Hidden[2].ToHost())

	for _, probs := range out.Attentions {
		require.Equal(t, batch, probs.Batch)
		require.Equal(t, config.NumAttentionHeads, probs.Heads)
		require.Equal(t, seqLen, probs.SeqLen)
	}
}

func TestEncoderNoCollectionByDefault(t *testing.T) {
	config := DefaultTinyConfig()
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 2
	config.MaxRelativeDistance = 4

	backend := device.NewCPUBackend()
	enc := NewEncoder(config, backend)

	const batch, seqLen = 1, 4
	input := randomHidden(backend, batch*seqLen, config.HiddenSize)

	out := enc.Forward(input, batch, seqLen, allValidMask(batch, seqLen))
	require.Nil(t, out.Hidden)
	require.Nil(t, out.Attentions)
	require.NotNil(t, out.Final)
}
