package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// RecordBatchBuilder packs token sequences and their pooled vectors
// into Arrow RecordBatches for transport.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch pairs each id sequence with its vector under the
// schema { tokens: list<int64>, embedding: fixed_size_list<float32>[dim] }.
// All vectors must share the same width.
func (b *RecordBatchBuilder) BuildRecordBatch(sequences [][]int, vectors [][]float32) (arrow.RecordBatch, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	if len(sequences) != len(vectors) {
		return nil, fmt.Errorf("record batch: %d sequences for %d vectors", len(sequences), len(vectors))
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("record batch: vector %d has width %d, want %d", i, len(v), dim)
		}
	}

	fslType := arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "tokens", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
			{Name: "embedding", Type: fslType},
		},
		nil,
	)

	tokensBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Int64)
	defer tokensBuilder.Release()
	idBuilder := tokensBuilder.ValueBuilder().(*array.Int64Builder)

	embedBuilder := array.NewFixedSizeListBuilder(b.mem, int32(dim), arrow.PrimitiveTypes.Float32)
	defer embedBuilder.Release()
	floatBuilder := embedBuilder.ValueBuilder().(*array.Float32Builder)

	for i := range vectors {
		tokensBuilder.Append(true)
		for _, id := range sequences[i] {
			idBuilder.Append(int64(id))
		}

		embedBuilder.Append(true)
		floatBuilder.AppendValues(vectors[i], nil)
	}

	tokensArr := tokensBuilder.NewArray()
	defer tokensArr.Release()
	embedArr := embedBuilder.NewArray()
	defer embedArr.Release()

	return array.NewRecordBatch(schema, []arrow.Array{tokensArr, embedArr}, int64(len(vectors))), nil
}
