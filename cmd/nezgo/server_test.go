package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sable-ml/nezgo/internal/inference"
	"github.com/sable-ml/nezgo/internal/model"
)

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

func testRunner(t *testing.T) *inference.Runner {
	t.Helper()
	config := model.DefaultTinyConfig()
	config.VocabSize = 1000
	config.HiddenSize = 32
	config.NumAttentionHeads = 2
	config.IntermediateSize = 64
	config.NumHiddenLayers = 1
	config.MaxRelativeDistance = 16

	m, err := model.New(config)
	require.NoError(t, err)
	return inference.NewRunner(m, 8, 1, nil)
}

func TestServer_Full(t *testing.T) {
	runner := testRunner(t)
	mfc := &mockFlightClient{}
	srv := NewServer(runner, mfc, "test-dataset", 64)

	t.Run("HandleEncode with Forwarding", func(t *testing.T) {
		sequences := [][]int{{101, 5, 102}, {101, 6, 7, 102}}
		data, _ := cbor.Marshal(sequences)
		req, _ := http.NewRequest("POST", "/encode", bytes.NewReader(data))
		rr := httptest.NewRecorder()

		mfc.On("DoPut", mock.Anything, "test-dataset", mock.Anything).Return(nil)

		http.HandlerFunc(srv.handleEncode).ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		mfc.AssertExpectations(t)

		var vectors [][]float32
		require.NoError(t, cbor.NewDecoder(rr.Body).Decode(&vectors))
		require.Len(t, vectors, 2)
		assert.Len(t, vectors[0], runner.HiddenSize())
	})

	t.Run("HandleEncode rejects GET", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/encode", nil)
		rr := httptest.NewRecorder()

		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("HandleEncode bad payload", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/encode", bytes.NewReader([]byte{0xff, 0x00}))
		rr := httptest.NewRecorder()

		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("HandleEncode invalid ids", func(t *testing.T) {
		data, _ := cbor.Marshal([][]int{{101, 999999, 102}})
		req, _ := http.NewRequest("POST", "/encode", bytes.NewReader(data))
		rr := httptest.NewRecorder()

		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Health Check", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()

		srv.handleHealth(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})
}

func TestServer_EncodeArrow(t *testing.T) {
	runner := testRunner(t)
	srv := NewServer(runner, nil, "", 64)

	sequences := [][]int{{101, 5, 102}, {101, 6, 7, 102}}
	pool := memory.NewGoAllocator()

	// Request payload: tokens-only record batch.
	schema := arrow.NewSchema(
		[]arrow.Field{{Name: "tokens", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)}},
		nil,
	)
	tokensBuilder := array.NewListBuilder(pool, arrow.PrimitiveTypes.Int64)
	defer tokensBuilder.Release()
	idBuilder := tokensBuilder.ValueBuilder().(*array.Int64Builder)
	for _, seq := range sequences {
		tokensBuilder.Append(true)
		for _, id := range seq {
			idBuilder.Append(int64(id))
		}
	}
	tokensArr := tokensBuilder.NewArray()
	defer tokensArr.Release()

	tokensOnly := array.NewRecordBatch(schema, []arrow.Array{tokensArr}, int64(len(sequences)))
	defer tokensOnly.Release()

	var body bytes.Buffer
	writer := ipc.NewWriter(&body, ipc.WithSchema(schema))
	require.NoError(t, writer.Write(tokensOnly))
	require.NoError(t, writer.Close())

	req, _ := http.NewRequest("POST", "/encode/arrow", &body)
	rr := httptest.NewRecorder()
	srv.handleEncodeArrow(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	reader, err := ipc.NewReader(rr.Body)
	require.NoError(t, err)
	defer reader.Release()

	total := int64(0)
	for reader.Next() {
		rec := reader.Record()
		assert.Equal(t, int64(2), rec.NumCols())
		total += rec.NumRows()
	}
	require.NoError(t, reader.Err())
	assert.Equal(t, int64(2), total)
}
