package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/lmittmann/tint"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/ingest"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/loader"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/store"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/stream"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/writer"
	"github.com/glassflow/cassandra-dataset-etl/internal/server"
)

//nolint:gochecknoglobals,revive // build variables
var (
	commit string = "unspecified"
	app    string = "unspecified"
)

type config struct {
	LogFormat    string     `default:"json" split_words:"true"`
	LogLevel     slog.Level `default:"info" split_words:"true"`
	LogAddSource bool       `default:"true" split_words:"true"`

	Server server.Config

	Nats stream.ConsumerConfig
	// CreateStream creates the job stream on startup when it is missing.
	CreateStream bool `default:"false" split_words:"true"`

	Store  store.Config
	Table  schema.TableConfig
	Batch  writer.BatchConfig
	Loader loader.Config

	// TableColumns lists the metadata columns as name:type pairs,
	// e.g. "width:int,height:int".
	TableColumns string `split_words:"true"`
}

func main() {
	var cfg config
	err := envconfig.Process("cdetl", &cfg)
	if err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	//nolint: exhaustruct // optional config
	logOpts := &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogAddSource,
	}

	var logHandler slog.Handler
	switch cfg.LogFormat {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stdout, logOpts)
	default:
		//nolint:exhaustruct // optional config
		logHandler = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:  cfg.LogAddSource,
			Level:      cfg.LogLevel,
			TimeFormat: time.Kitchen,
		})
	}

	log := slog.New(logHandler)

	log = log.With(
		slog.String("app", app),
		slog.String("commit_hash", commit),
		slog.String("goversion", runtime.Version()),
	)

	if err := mainErr(&cfg, log); err != nil {
		log.Error("Service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Service terminated gracefully")
}

func mainErr(cfg *config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	columns, err := schema.ParseColumns(cfg.TableColumns)
	if err != nil {
		return fmt.Errorf("parse table columns: %w", err)
	}
	cfg.Table.Columns = columns

	mapper, err := schema.NewMapper(cfg.Table)
	if err != nil {
		return fmt.Errorf("create schema mapper: %w", err)
	}

	contentLoader, err := loader.New(ctx, cfg.Loader)
	if err != nil {
		return fmt.Errorf("create content loader: %w", err)
	}

	sess, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sess.Close()

	w, err := writer.New(ctx, sess, mapper, contentLoader, cfg.Batch)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	nc, err := stream.NewNATSWrapper(cfg.Nats.NatsURL, app)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer nc.Close()

	if cfg.CreateStream {
		if err := nc.EnsureStream(ctx, cfg.Nats.NatsStream, cfg.Nats.Subject()); err != nil {
			return fmt.Errorf("ensure job stream: %w", err)
		}
	}

	consumer, err := stream.NewConsumer(ctx, nc.JetStream(), cfg.Nats)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	runner := ingest.NewRunner(consumer, w, log)

	apiServer := server.NewHTTPServer(cfg.Server, func() any { return runner.Stats() }, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	ingestErr := make(chan error, 1)
	go func() {
		ingestErr <- runner.Run(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		cancel()
		<-ingestErr
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case err := <-ingestErr:
		if shutdownErr := apiServer.Shutdown(); shutdownErr != nil {
			log.Error("failed to shutdown server", slog.Any("error", shutdownErr))
		}
		if err != nil {
			return fmt.Errorf("ingest stopped: %w", err)
		}
		return nil
	case <-shutdown:
		log.Info("Received termination signal - service will shutdown")

		// stop ingest first so the last batch is flushed and acked
		cancel()
		if err := <-ingestErr; err != nil {
			log.Error("final flush failed", slog.Any("error", err))
		}

		if err := apiServer.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	}
}
