package model

// maskNeg is the additive penalty for invalid key positions. Softmax
// drives the resulting probability to ~0.
const maskNeg float32 = -1e9

// AttentionMask is the pairwise additive mask derived from per-token
// validity. Only key validity matters: the value at (b, q, k) depends on
// k alone, so the mask is stored per key position and broadcast over
// queries and heads.
type AttentionMask struct {
	Batch  int
	SeqLen int

	// add[b][k] is 0 for a valid key and maskNeg for padding.
	add [][]float32
}

// NewAttentionMask expands a validity mask (1 = valid token, 0 = padding)
// into the additive form used inside attention.
func NewAttentionMask(validity [][]int, seqLen int) (*AttentionMask, error) {
	if len(validity) == 0 {
		return nil, &ShapeError{Name: "input_mask", Msg: "batch must not be empty"}
	}

	add := make([][]float32, len(validity))
	for b, row := range validity {
		if len(row) != seqLen {
			return nil, &ShapeError{Name: "input_mask", Msg: "all rows must have the sequence length"}
		}
		out := make([]float32, seqLen)
		for k, v := range row {
			if v == 0 {
				out[k] = maskNeg
			}
		}
		add[b] = out
	}

	return &AttentionMask{Batch: len(validity), SeqLen: seqLen, add: add}, nil
}

// allValidMask returns the mask for a batch with no padding.
func allValidMask(batch, seqLen int) *AttentionMask {
	add := make([][]float32, batch)
	for b := range add {
		add[b] = make([]float32, seqLen)
	}
	return &AttentionMask{Batch: batch, SeqLen: seqLen, add: add}
}

// At returns the additive mask value for (batch, query, key). The query
// index is accepted for symmetry with the pairwise contract but does not
// influence the result.
func (m *AttentionMask) At(b, _, k int) float32 {
	return m.add[b][k]
}

// Keys returns the additive key-axis row for one batch element.
func (m *AttentionMask) Keys(b int) []float32 {
	return m.add[b]
}
