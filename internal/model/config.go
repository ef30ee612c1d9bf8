package model

// Activation selects the feed-forward nonlinearity.
type Activation string

const (
	ActGELU Activation = "gelu"
	ActReLU Activation = "relu"
	ActTanh Activation = "tanh"
)

// RelativeMode selects how relative position information is folded into
// attention. Scores-only is the default; checkpoints trained with the
// value-folding variant need ScoresAndValues.
type RelativeMode int

const (
	// RelativeScores adds a learned per-head scalar bias to raw
	// attention scores before softmax.
	RelativeScores RelativeMode = iota

	// RelativeScoresAndValues additionally aggregates a learned
	// per-bucket vector into the context alongside the values.
	RelativeScoresAndValues
)

// Config holds the model hyperparameters. It is treated as immutable
// after construction.
type Config struct {
	VocabSize     int
	TypeVocabSize int

	// EmbeddingSize is the width of the embedding table. When it
	// differs from HiddenSize the encoder projects embeddings up once
	// before the first layer. Zero means HiddenSize.
	EmbeddingSize int

	HiddenSize        int
	NumHiddenLayers   int
	NumAttentionHeads int
	IntermediateSize  int

	HiddenAct Activation

	HiddenDropoutProb         float32
	AttentionProbsDropoutProb float32

	InitializerRange float32

	// MaxRelativeDistance bounds the relative distance between two
	// positions; distances beyond it saturate to the boundary bucket.
	MaxRelativeDistance int

	RelativeMode RelativeMode

	OutputHiddenStates bool
	OutputAttentions   bool
}

// DefaultTinyConfig returns a small configuration suitable for tests and
// CPU-only experiments.
func DefaultTinyConfig() Config {
	return Config{
		VocabSize:                 30522,
		TypeVocabSize:             2,
		HiddenSize:                128,
		NumHiddenLayers:           2,
		NumAttentionHeads:         2,
		IntermediateSize:          512,
		HiddenAct:                 ActGELU,
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		InitializerRange:          0.02,
		MaxRelativeDistance:       64,
	}
}

// DefaultBaseConfig returns the base-sized configuration.
func DefaultBaseConfig() Config {
	return Config{
		VocabSize:                 21128,
		TypeVocabSize:             2,
		HiddenSize:                768,
		NumHiddenLayers:           12,
		NumAttentionHeads:         12,
		IntermediateSize:          3072,
		HiddenAct:                 ActGELU,
		HiddenDropoutProb:         0.1,
		AttentionProbsDropoutProb: 0.1,
		InitializerRange:          0.02,
		MaxRelativeDistance:       64,
	}
}

// HeadSize returns the per-head width.
func (c Config) HeadSize() int {
	return c.HiddenSize / c.NumAttentionHeads
}

func (c Config) embeddingSize() int {
	if c.EmbeddingSize > 0 {
		return c.EmbeddingSize
	}
	return c.HiddenSize
}

// Validate checks the configuration before any tensor is allocated.
func (c Config) Validate() error {
	if c.NumAttentionHeads <= 0 {
		return &ConfigError{Field: "NumAttentionHeads", Msg: "must be positive"}
	}
	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return &ConfigError{
			Field: "HiddenSize",
			Msg:   "must be a multiple of NumAttentionHeads",
			Got:   c.HiddenSize,
		}
	}
	if c.VocabSize <= 0 {
		return &ConfigError{Field: "VocabSize", Msg: "must be positive", Got: c.VocabSize}
	}
	if c.TypeVocabSize <= 0 {
		return &ConfigError{Field: "TypeVocabSize", Msg: "must be positive", Got: c.TypeVocabSize}
	}
	if c.NumHiddenLayers < 0 {
		return &ConfigError{Field: "NumHiddenLayers", Msg: "must not be negative", Got: c.NumHiddenLayers}
	}
	if c.NumHiddenLayers > 0 && c.IntermediateSize <= 0 {
		return &ConfigError{Field: "IntermediateSize", Msg: "must be positive", Got: c.IntermediateSize}
	}
	if c.MaxRelativeDistance < 0 {
		return &ConfigError{Field: "MaxRelativeDistance", Msg: "must not be negative", Got: c.MaxRelativeDistance}
	}
	switch c.HiddenAct {
	case ActGELU, ActReLU, ActTanh, "":
	default:
		return &ConfigError{Field: "HiddenAct", Msg: "unknown activation " + string(c.HiddenAct)}
	}
	return nil
}
