package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// endToEndConfig mirrors a small production-shaped encoder:
// 312 hidden with 12 heads gives a head size of 26.
func endToEndConfig() Config {
	return Config{
		VocabSize:                 30522,
		TypeVocabSize:             2,
		HiddenSize:                312,
		NumHiddenLayers:           2,
		NumAttentionHeads:         12,
		IntermediateSize:          1248,
		HiddenAct:                 ActGELU,
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		InitializerRange:          0.02,
		MaxRelativeDistance:       64,
		OutputHiddenStates:        true,
		OutputAttentions:          true,
	}
}

func TestModelForwardEndToEnd(t *testing.T) {
	m, err := New(endToEndConfig())
	require.NoError(t, err)

	inputIDs := [][]int{
		{101, 7592, 2088, 102, 0},
		{101, 2023, 2003, 1037, 102},
	}

	out, err := m.Forward(inputIDs, nil, nil)
	require.NoError(t, err)

	pr, pc := out.Pooled.Dims()
	require.Equal(t, 2, pr)
	require.Equal(t, 312, pc)

	hr, hc := out.LastHidden.Dims()
	require.Equal(t, 2*5, hr)
	require.Equal(t, 312, hc)

	require.Len(t, out.HiddenStates, 2)
	require.Len(t, out.Attentions, 2)

	for _, probs := range out.Attentions {
		require.Equal(t, 2, probs.Batch)
		require.Equal(t, 12, probs.Heads)
		require.Equal(t, 5, probs.SeqLen)

		for b := 0; b < 2; b++ {
			for h := 0; h < 12; h++ {
				for q := 0; q < 5; q++ {
					var sum float32
					for _, p := range probs.Row(b, h, q) {
						sum += p
					}
					require.InDelta(t, 1.0, float64(sum), 1e-3)
				}
			}
		}
	}

	// Pooled output should carry signal.
	hasNonZero := false
	for _, v := range out.Pooled.ToHost() {
		if v != 0 {
			hasNonZero = true
			break
		}
	}
	require.True(t, hasNonZero, "pooled output should not be all zeros")
}

func TestModelForwardMaskingDrivesKeyProbabilityToZero(t *testing.T) {
	config := endToEndConfig()
	config.NumHiddenLayers = 1
	config.OutputHiddenStates = false

	m, err := New(config)
	require.NoError(t, err)

	inputIDs := [][]int{
		{101, 7592, 2088, 102, 0},
		{101, 2023, 2003, 1037, 102},
	}
	inputMask := [][]int{
		{1, 1, 1, 1, 0},
		{1, 1, 1, 1, 1},
	}

	out, err := m.Forward(inputIDs, inputMask, nil)
	require.NoError(t, err)
	require.Len(t, out.Attentions, 1)

	probs := out.Attentions[0]
	for h := 0; h < probs.Heads; h++ {
		for q := 0; q < probs.SeqLen; q++ {
			require.Less(t, float64(probs.At(0, h, q, 4)), 1e-6)
			require.Greater(t, float64(probs.At(1, h, q, 4)), 0.0)
		}
	}
}

func TestModelForwardDefaults(t *testing.T) {
	config := DefaultTinyConfig()
	config.VocabSize = 100
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 1
	config.MaxRelativeDistance = 8

	m, err := New(config)
	require.NoError(t, err)

	// Nil mask and nil type ids fall back to all-valid / all-zero.
	out, err := m.Forward([][]int{{1, 2, 3}}, nil, nil)
	require.NoError(t, err)

	pr, pc := out.Pooled.Dims()
	require.Equal(t, 1, pr)
	require.Equal(t, 16, pc)
	require.Nil(t, out.HiddenStates)
	require.Nil(t, out.Attentions)
}

func TestModelForwardInputValidation(t *testing.T) {
	config := DefaultTinyConfig()
	config.VocabSize = 100
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 1

	m, err := New(config)
	require.NoError(t, err)

	t.Run("NilInput", func(t *testing.T) {
		_, err := m.Forward(nil, nil, nil)
		var miss *MissingInputError
		require.ErrorAs(t, err, &miss)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		_, err := m.Forward([][]int{}, nil, nil)
		require.Error(t, err)
	})

	t.Run("EmptySequence", func(t *testing.T) {
		_, err := m.Forward([][]int{{}}, nil, nil)
		require.Error(t, err)
	})

	t.Run("RaggedBatch", func(t *testing.T) {
		_, err := m.Forward([][]int{{1, 2, 3}, {1, 2}}, nil, nil)
		require.Error(t, err)
	})

	t.Run("MaskBatchMismatch", func(t *testing.T) {
		_, err := m.Forward([][]int{{1, 2, 3}}, [][]int{{1, 1, 1}, {1, 1, 1}}, nil)
		require.Error(t, err)
	})

	t.Run("TypeIDsOutOfRange", func(t *testing.T) {
		_, err := m.Forward([][]int{{1, 2, 3}}, nil, [][]int{{0, 5, 0}})
		require.Error(t, err)
	})

	t.Run("TokenOutOfVocab", func(t *testing.T) {
		_, err := m.Forward([][]int{{1, 2, 100}}, nil, nil)
		require.Error(t, err)
	})
}

func TestModelSingleTokenSequence(t *testing.T) {
	config := DefaultTinyConfig()
	config.VocabSize = 50
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 1
	config.OutputAttentions = true

	m, err := New(config)
	require.NoError(t, err)

	out, err := m.Forward([][]int{{7}}, nil, nil)
	require.NoError(t, err)

	probs := out.Attentions[0]
	for h := 0; h < probs.Heads; h++ {
		require.InDelta(t, 1.0, float64(probs.At(0, h, 0, 0)), 1e-6)
	}
}

func TestModelEmbeddingAdapterPath(t *testing.T) {
	config := DefaultTinyConfig()
	config.VocabSize = 100
	config.EmbeddingSize = 8
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 1

	m, err := New(config)
	require.NoError(t, err)
	require.NotNil(t, m.Encoder.Adapter)

	out, err := m.Forward([][]int{{1, 2, 3, 4}}, nil, nil)
	require.NoError(t, err)

	_, hc := out.LastHidden.Dims()
	require.Equal(t, 16, hc)
}

func TestModelTrainingModeToggle(t *testing.T) {
	config := DefaultTinyConfig()
	config.VocabSize = 100
	config.HiddenSize = 16
	config.NumAttentionHeads = 2
	config.IntermediateSize = 32
	config.NumHiddenLayers = 1
	config.HiddenDropoutProb = 0.5
	config.AttentionProbsDropoutProb = 0.5

	m, err := New(config)
	require.NoError(t, err)

	// Inference is deterministic.
	a, err := m.Forward([][]int{{1, 2, 3}}, nil, nil)
	require.NoError(t, err)
	b, err := m.Forward([][]int{{1, 2, 3}}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, a.Pooled.ToHost(), b.Pooled.ToHost())

	m.SetTraining(true)
	require.True(t, m.Embeddings.Dropout.Training)
	require.True(t, m.Encoder.Layers[0].Attention.Dropout.Training)

	m.SetTraining(false)
	require.False(t, m.Encoder.Layers[0].Attention.Dropout.Training)
}
