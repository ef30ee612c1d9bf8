package main

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/sable-ml/nezgo/internal/client"
)

// EncodeFlightServer serves the encoder over Arrow Flight. DoExchange
// turns incoming token batches into embedding batches on the same
// stream; DoPut encodes and optionally forwards downstream.
type EncodeFlightServer struct {
	flight.BaseFlightServer
	runner       EncoderInterface
	flightClient FlightClientInterface
	datasetName  string
	alloc        memory.Allocator
	batches      *client.RecordBatchBuilder
}

func NewEncodeFlightServer(runner EncoderInterface, fc FlightClientInterface, dataset string) *EncodeFlightServer {
	alloc := memory.NewGoAllocator()
	return &EncodeFlightServer{
		runner:       runner,
		flightClient: fc,
		datasetName:  dataset,
		alloc:        alloc,
		batches:      client.NewRecordBatchBuilder(alloc),
	}
}

func (s *EncodeFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	var writer *flight.Writer
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	for reader.Next() {
		rec := reader.Record()
		sequences, err := tokensFromRecord(rec)
		if err != nil {
			return err
		}
		if len(sequences) == 0 {
			continue
		}

		vectors, err := s.runner.EncodeBatch(stream.Context(), sequences)
		if err != nil {
			return err
		}
		vectorsProcessed.Add(float64(len(sequences)))

		out, err := s.batches.BuildRecordBatch(sequences, vectors)
		if err != nil {
			return err
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(out.Schema()))
		}
		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
	}
	return reader.Err()
}

func (s *EncodeFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		sequences, err := tokensFromRecord(rec)
		if err != nil {
			return err
		}
		if len(sequences) == 0 {
			continue
		}

		vectors, err := s.runner.EncodeBatch(stream.Context(), sequences)
		if err != nil {
			return err
		}
		vectorsProcessed.Add(float64(len(sequences)))
		log.Info().Int("rows", len(sequences)).Msg("DoPut encoded batch")

		if s.flightClient != nil {
			if err := s.forwardPut(stream.Context(), sequences, vectors); err != nil {
				log.Error().Err(err).Msg("Error forwarding Flight batch downstream")
			}
		}
	}
	return reader.Err()
}

func (s *EncodeFlightServer) forwardPut(ctx context.Context, sequences [][]int, vectors [][]float32) error {
	rb, err := s.batches.BuildRecordBatch(sequences, vectors)
	if err != nil || rb == nil {
		return err
	}
	defer rb.Release()
	return s.flightClient.DoPut(ctx, s.datasetName, rb)
}

func StartFlightServer(addr string, runner EncoderInterface, fc FlightClientInterface, dataset string) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewEncodeFlightServer(runner, fc, dataset))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting nezgo Flight server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
