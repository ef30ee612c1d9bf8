package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/sable-ml/nezgo/internal/cache"
	"github.com/sable-ml/nezgo/internal/client"
	"github.com/sable-ml/nezgo/internal/inference"
	"github.com/sable-ml/nezgo/internal/model"
)

var (
	modelType     = flag.String("model", "tiny", "Model configuration (tiny, base)")
	relativeMode  = flag.String("relative-mode", "scores", "Relative position mode (scores, scores-values)")
	batchSize     = flag.Int("batch-size", 32, "Internal batch size for inference")
	workers       = flag.Int("workers", 0, "Inference worker count (0 = NumCPU)")
	enableCache   = flag.Bool("cache", true, "Cache pooled vectors by input sequence")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	duration      = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	serverAddr    = flag.String("server", "", "Downstream Flight server address (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "nezgo_dataset", "Target dataset name on the downstream server")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight server (e.g. :9090)")
	maxConcurrent = flag.Int("max-concurrent", 16384, "Maximum number of concurrent sequences to process")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	demoCount     = flag.Int("count", 3, "Number of synthetic sequences for the demo run")
)

func buildConfig() model.Config {
	var config model.Config
	switch *modelType {
	case "base":
		config = model.DefaultBaseConfig()
	default:
		config = model.DefaultTinyConfig()
	}
	if *relativeMode == "scores-values" {
		config.RelativeMode = model.RelativeScoresAndValues
	}
	return config
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	config := buildConfig()
	m, err := model.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build model")
	}

	var vc cache.VectorCache
	if *enableCache {
		vc = cache.NewMapCache()
	}
	runner := inference.NewRunner(m, *batchSize, *workers, vc)

	log.Info().
		Str("model", *modelType).
		Int("hidden_size", config.HiddenSize).
		Int("layers", config.NumHiddenLayers).
		Int("heads", config.NumAttentionHeads).
		Int("max_relative_distance", config.MaxRelativeDistance).
		Msg("Encoder ready")

	var fc FlightClientInterface
	if *serverAddr != "" {
		c, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		log.Info().Str("addr", *serverAddr).Msg("Connected to downstream Flight server")
		fc = c
	}

	// Server mode
	if *listenAddr != "" {
		go startServer(*listenAddr, runner, fc, *datasetName, *maxConcurrent)
	}
	if *flightAddr != "" {
		StartFlightServer(*flightAddr, runner, fc, *datasetName)
		return
	}
	if *listenAddr != "" {
		select {}
	}

	sequences := generateSequences(*demoCount)

	if *duration > 0 {
		runSoak(runner, sequences)
		return
	}

	start := time.Now()
	vectors, err := runner.EncodeBatch(context.Background(), sequences)
	if err != nil {
		log.Fatal().Err(err).Msg("Encode failed")
	}
	elapsed := time.Since(start)

	log.Info().
		Int("count", len(sequences)).
		Dur("elapsed", elapsed).
		Int("dim", runner.HiddenSize()).
		Float64("sps", float64(len(sequences))/elapsed.Seconds()).
		Msg("Encoded sequences")

	rb, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(sequences, vectors)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record batch")
	}
	defer rb.Release()

	if fc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := fc.DoPut(ctx, *datasetName, rb); err != nil {
			log.Fatal().Err(err).Msg("Flight DoPut failed")
		}
		log.Info().Str("dataset", *datasetName).Msg("Sent vectors downstream")

		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
		return
	}

	// Write Arrow IPC to stdout
	writer := ipc.NewWriter(os.Stdout, ipc.WithSchema(rb.Schema()))
	if err := writer.Write(rb); err != nil {
		_ = writer.Close()
		log.Warn().Err(err).Msg("Failed to write arrow stream")
		return
	}
	if err := writer.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close arrow stream")
	}
}

func runSoak(runner *inference.Runner, sequences [][]int) {
	log.Info().Str("duration", duration.String()).Msg("Starting soak test")

	startTime := time.Now()
	endTime := startTime.Add(*duration)
	var totalVectors int64
	var iter int

	for time.Now().Before(endTime) {
		if _, err := runner.EncodeBatch(context.Background(), sequences); err != nil {
			log.Fatal().Err(err).Msg("Soak iteration failed")
		}

		totalVectors += int64(len(sequences))
		iter++

		if iter%10 == 0 {
			elapsed := time.Since(startTime)
			log.Info().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Int64("total_vectors", totalVectors).
				Float64("sps", float64(totalVectors)/elapsed.Seconds()).
				Msg("Soak test progress")
		}
	}

	totalElapsed := time.Since(startTime)
	log.Info().
		Int64("total_vectors", totalVectors).
		Dur("total_time", totalElapsed).
		Float64("avg_sps", float64(totalVectors)/totalElapsed.Seconds()).
		Msg("Soak test complete")
}

// generateSequences produces deterministic synthetic token sequences
// bracketed by the conventional [CLS]=101 and [SEP]=102 ids.
func generateSequences(n int) [][]int {
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		length := 6 + (i % 11)
		seq := make([]int, 0, length+2)
		seq = append(seq, 101)
		for j := 0; j < length; j++ {
			seq = append(seq, 1000+(i*31+j*7)%9000)
		}
		seq = append(seq, 102)
		out[i] = seq
	}
	return out
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("nezgo"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
