package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/sable-ml/nezgo/internal/client"
)

var (
	vectorsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nezgo_vectors_processed_total",
		Help: "The total number of sequences encoded",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nezgo_request_duration_seconds",
		Help:    "Time spent processing encode requests",
		Buckets: prometheus.DefBuckets,
	})
)

// EncoderInterface is what the serving layer needs from the inference
// runner.
type EncoderInterface interface {
	EncodeBatch(ctx context.Context, sequences [][]int) ([][]float32, error)
	HiddenSize() int
}

type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

type Server struct {
	runner       EncoderInterface
	flightClient FlightClientInterface
	datasetName  string
	alloc        memory.Allocator
	batches      *client.RecordBatchBuilder
	sem          *semaphore.Weighted
}

func NewServer(runner EncoderInterface, fc FlightClientInterface, dataset string, maxConcurrent int) *Server {
	alloc := memory.NewGoAllocator()
	return &Server{
		runner:       runner,
		flightClient: fc,
		datasetName:  dataset,
		alloc:        alloc,
		batches:      client.NewRecordBatchBuilder(alloc),
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, runner EncoderInterface, fc FlightClientInterface, dataset string, maxConcurrent int) {
	srv := NewServer(runner, fc, dataset, maxConcurrent)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/encode", srv.handleEncode)
	http.HandleFunc("/encode/arrow", srv.handleEncodeArrow)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting nezgo server")
	if fc != nil {
		log.Info().Str("dataset", dataset).Msg("Forwarding vectors downstream via Flight")
	}

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("nezgo-server")

// handleEncode accepts a CBOR array of token id sequences and replies
// with a CBOR array of pooled vectors.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncode")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sequences [][]int
	decoder := cbor.NewDecoder(r.Body)
	if err := decoder.Decode(&sequences); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	if len(sequences) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	span.SetAttributes(attribute.Int("sequence_count", len(sequences)))

	// Admission control
	weight := int64(len(sequences))
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	vectors, err := s.runner.EncodeBatch(ctx, sequences)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Encode failed")
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusBadRequest)
		return
	}
	vectorsProcessed.Add(float64(len(sequences)))

	if s.flightClient != nil {
		if err := s.forward(ctx, sequences, vectors); err != nil {
			log.Error().Err(err).Msg("Error forwarding batch downstream")
		}
	}

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(vectors); err != nil {
		log.Error().Err(err).Msg("Failed to write CBOR response")
	}
}

func (s *Server) forward(ctx context.Context, sequences [][]int, vectors [][]float32) error {
	rb, err := s.batches.BuildRecordBatch(sequences, vectors)
	if err != nil {
		return err
	}
	if rb == nil {
		return nil
	}
	defer rb.Release()

	return s.flightClient.DoPut(ctx, s.datasetName, rb)
}

// handleEncodeArrow accepts an Arrow IPC stream with a "tokens"
// list<int64> column and streams back {tokens, embedding} batches.
func (s *Server) handleEncodeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncodeArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")

	var writer *ipc.Writer
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	totalProcessed := 0
	for reader.Next() {
		rec := reader.Record()
		sequences, err := tokensFromRecord(rec)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping malformed Arrow batch")
			continue
		}
		if len(sequences) == 0 {
			continue
		}

		weight := int64(len(sequences))
		if err := s.sem.Acquire(ctx, weight); err != nil {
			log.Error().Err(err).Msg("Failed to acquire semaphore for arrow batch")
			break
		}
		vectors, err := s.runner.EncodeBatch(ctx, sequences)
		s.sem.Release(weight)
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("Encode failed for arrow batch")
			continue
		}
		vectorsProcessed.Add(float64(len(sequences)))

		if s.flightClient != nil {
			if err := s.forward(ctx, sequences, vectors); err != nil {
				log.Error().Err(err).Msg("Error forwarding arrow batch downstream")
			}
		}

		out, err := s.batches.BuildRecordBatch(sequences, vectors)
		if err != nil {
			log.Error().Err(err).Msg("Failed to build response batch")
			continue
		}
		if writer == nil {
			writer = ipc.NewWriter(w, ipc.WithSchema(out.Schema()), ipc.WithAllocator(s.alloc))
		}
		if err := writer.Write(out); err != nil {
			out.Release()
			log.Error().Err(err).Msg("Failed to write response batch")
			return
		}
		out.Release()

		totalProcessed += len(sequences)
	}

	if reader.Err() != nil {
		log.Error().Err(reader.Err()).Msg("Error reading Arrow stream")
		if writer == nil {
			http.Error(w, "Stream error", http.StatusInternalServerError)
		}
		return
	}

	span.SetAttributes(attribute.Int("sequence_count", totalProcessed))
}

// tokensFromRecord pulls the "tokens" list<int64> column out of an
// incoming record. Falls back to column 0 when the schema is unnamed.
func tokensFromRecord(rec arrow.RecordBatch) ([][]int, error) {
	if rec.NumCols() == 0 {
		return nil, nil
	}

	col := rec.Column(0)
	if indices := rec.Schema().FieldIndices("tokens"); len(indices) > 0 {
		col = rec.Column(indices[0])
	}

	listArr, ok := col.(*array.List)
	if !ok {
		return nil, fmt.Errorf("tokens column is %s, want list<int64>", col.DataType())
	}
	ids, ok := listArr.ListValues().(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("tokens values are %s, want int64", listArr.ListValues().DataType())
	}

	offsets := listArr.Offsets()
	sequences := make([][]int, listArr.Len())
	for i := 0; i < listArr.Len(); i++ {
		seq := make([]int, 0, offsets[i+1]-offsets[i])
		for j := offsets[i]; j < offsets[i+1]; j++ {
			seq = append(seq, int(ids.Value(int(j))))
		}
		sequences[i] = seq
	}
	return sequences, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
