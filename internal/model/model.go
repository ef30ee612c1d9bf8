package model

import (
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sable-ml/nezgo/internal/device"
)

// Output is the bundle produced by one forward pass. Pooled and
// LastHidden are always present; HiddenStates and Attentions are set iff
// the corresponding config flags are. The bundle is immutable once
// returned and owned by the caller.
type Output struct {
	Pooled       device.Tensor      // (batch, hidden)
	LastHidden   device.Tensor      // (batch*seqLen, hidden)
	HiddenStates []device.Tensor    // per layer, nil unless requested
	Attentions   []*AttentionProbs  // per layer, nil unless requested

	Batch  int
	SeqLen int
}

// Model is the full encoder: embedding stage, transformer stack and
// pooler. Learned parameters are read-only during inference, so
// concurrent Forward calls on one Model are safe once training mode is
// off.
type Model struct {
	Config  Config
	Backend device.Backend

	Embeddings *Embeddings
	Encoder    *Encoder
	Pooler     *Pooler
}

// New creates a model on the CPU backend. The configuration is validated
// before any tensor is allocated; weights are initialized from a
// truncated normal with the configured range.
func New(config Config) (*Model, error) {
	return NewWithBackend(config, device.NewCPUBackend())
}

// NewWithBackend creates a model on the given backend.
func NewWithBackend(config Config, b device.Backend) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		Config:     config,
		Backend:    b,
		Embeddings: NewEmbeddings(config, b),
		Encoder:    NewEncoder(config, b),
		Pooler:     NewPooler(config, b),
	}
	m.initWeights()
	return m, nil
}

// SetTraining toggles dropout on every sub-layer. Off by default.
func (m *Model) SetTraining(training bool) {
	m.Embeddings.Dropout.Training = training
	for _, layer := range m.Encoder.Layers {
		layer.Attention.Dropout.Training = training
		layer.AttentionOutput.Dropout.Training = training
		layer.Output.Dropout.Training = training
	}
}

// Forward runs the computation graph over a rectangular batch of token
// ids. inputMask and tokenTypeIDs may be nil: a nil mask treats every
// position as valid, nil type ids as type 0.
func (m *Model) Forward(inputIDs [][]int, inputMask [][]int, tokenTypeIDs [][]int) (*Output, error) {
	if inputIDs == nil {
		return nil, &MissingInputError{Name: "input_ids"}
	}
	batch := len(inputIDs)
	if batch == 0 {
		return nil, &ShapeError{Name: "input_ids", Msg: "batch must not be empty"}
	}
	seqLen := len(inputIDs[0])
	if seqLen == 0 {
		return nil, &ShapeError{Name: "input_ids", Msg: "sequence length must be >= 1"}
	}
	for _, row := range inputIDs {
		if len(row) != seqLen {
			return nil, &ShapeError{Name: "input_ids", Msg: "all sequences in a batch must have equal length"}
		}
	}

	flatIDs := flatten(inputIDs)

	var flatTypes []int
	if tokenTypeIDs == nil {
		flatTypes = make([]int, batch*seqLen)
	} else {
		if len(tokenTypeIDs) != batch {
			return nil, &ShapeError{Name: "token_type_ids", Msg: "batch size mismatch"}
		}
		for _, row := range tokenTypeIDs {
			if len(row) != seqLen {
				return nil, &ShapeError{Name: "token_type_ids", Msg: "sequence length mismatch"}
			}
		}
		flatTypes = flatten(tokenTypeIDs)
	}

	var mask *AttentionMask
	if inputMask == nil {
		mask = allValidMask(batch, seqLen)
	} else {
		if len(inputMask) != batch {
			return nil, &ShapeError{Name: "input_mask", Msg: "batch size mismatch"}
		}
		var err error
		mask, err = NewAttentionMask(inputMask, seqLen)
		if err != nil {
			return nil, err
		}
	}

	backendName := m.Backend.Name()

	start := time.Now()
	embeddingOutput, err := m.Embeddings.Forward(flatIDs, flatTypes)
	if err != nil {
		return nil, err
	}
	LayerDuration.WithLabelValues("embeddings", backendName).Observe(time.Since(start).Seconds())

	encoded := m.Encoder.Forward(embeddingOutput, batch, seqLen, mask)

	start = time.Now()
	pooled := m.Pooler.Forward(encoded.Final, batch, seqLen)
	LayerDuration.WithLabelValues("pooler", backendName).Observe(time.Since(start).Seconds())

	if encoded.Final != embeddingOutput {
		m.Backend.PutTensor(embeddingOutput)
	}

	return &Output{
		Pooled:       pooled,
		LastHidden:   encoded.Final,
		HiddenStates: encoded.Hidden,
		Attentions:   encoded.Attentions,
		Batch:        batch,
		SeqLen:       seqLen,
	}, nil
}

func flatten(rows [][]int) []int {
	if len(rows) == 0 {
		return nil
	}
	out := make([]int, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

// initWeights draws every learned matrix from a truncated normal with
// stddev = InitializerRange, resampling beyond two sigma. Norm gains
// stay at 1, shifts and biases at 0.
func (m *Model) initWeights() {
	sigma := float64(m.Config.InitializerRange)
	if sigma <= 0 {
		sigma = 0.02
	}
	dist := distuv.Normal{Mu: 0, Sigma: sigma}

	truncInit(m.Embeddings.WordEmbeddings, dist)
	truncInit(m.Embeddings.TokenTypeEmbeddings, dist)

	if m.Encoder.Adapter != nil {
		truncInit(m.Encoder.Adapter, dist)
	}

	for _, layer := range m.Encoder.Layers {
		truncInit(layer.Attention.Query, dist)
		truncInit(layer.Attention.Key, dist)
		truncInit(layer.Attention.Value, dist)
		truncInitSlices(layer.Attention.RelPos.ScoreBias, dist)
		if layer.Attention.RelPos.ValueBias != nil {
			truncInitSlices(layer.Attention.RelPos.ValueBias, dist)
		}
		truncInit(layer.AttentionOutput.Dense, dist)
		truncInit(layer.Intermediate.Dense, dist)
		truncInit(layer.Output.Dense, dist)
	}

	truncInit(m.Pooler.Dense, dist)
}

func truncInit(t device.Tensor, dist distuv.Normal) {
	r, c := t.Dims()
	size := r * c
	bound := 2 * dist.Sigma

	data := make([]float32, size)
	for i := range data {
		v := dist.Rand()
		for v > bound || v < -bound {
			v = dist.Rand()
		}
		data[i] = float32(v)
	}
	t.CopyFrom(data)
}

func truncInitSlices(rows [][]float32, dist distuv.Normal) {
	bound := 2 * dist.Sigma
	for _, row := range rows {
		for i := range row {
			v := dist.Rand()
			for v > bound || v < -bound {
				v = dist.Rand()
			}
			row[i] = float32(v)
		}
	}
}
