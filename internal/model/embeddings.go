package model

import (
	"github.com/sable-ml/nezgo/internal/device"
)

// Embeddings is the input stage: word embedding lookup plus token-type
// embedding lookup, normalized and dropout-regularized. There is no
// positional embedding; position information enters the model only
// through the relative bias inside attention.
type Embeddings struct {
	Config  Config
	Backend device.Backend

	WordEmbeddings      device.Tensor // (vocab, embeddingSize)
	TokenTypeEmbeddings device.Tensor // (typeVocab, embeddingSize)
	LayerNorm           *LayerNorm
	Dropout             *Dropout
}

func NewEmbeddings(config Config, backend device.Backend) *Embeddings {
	width := config.embeddingSize()
	return &Embeddings{
		Config:              config,
		Backend:             backend,
		WordEmbeddings:      backend.NewTensor(config.VocabSize, width, nil),
		TokenTypeEmbeddings: backend.NewTensor(config.TypeVocabSize, width, nil),
		LayerNorm:           NewLayerNorm(width),
		Dropout:             NewDropout(config.HiddenDropoutProb),
	}
}

// Forward looks up and combines embeddings for a rectangular batch.
// inputIDs and tokenTypeIDs are flattened (batch*seqLen).
func (e *Embeddings) Forward(inputIDs, tokenTypeIDs []int) (device.Tensor, error) {
	for _, id := range inputIDs {
		if id < 0 || id >= e.Config.VocabSize {
			return nil, &ShapeError{Name: "input_ids", Msg: "token id out of vocabulary range"}
		}
	}
	for _, id := range tokenTypeIDs {
		if id < 0 || id >= e.Config.TypeVocabSize {
			return nil, &ShapeError{Name: "token_type_ids", Msg: "type id out of range"}
		}
	}

	embeddings := e.WordEmbeddings.Gather(inputIDs)
	typeEmbeds := e.TokenTypeEmbeddings.Gather(tokenTypeIDs)
	embeddings.Add(typeEmbeds)
	e.Backend.PutTensor(typeEmbeds)

	output := e.LayerNorm.Forward(embeddings)
	e.Dropout.Forward(output)

	return output, nil
}
