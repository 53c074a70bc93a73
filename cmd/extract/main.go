package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/extract"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/loader"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/store"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/writer"
)

type Config struct {
	SourceDir string       `json:"source_dir"`
	Splits    []string     `json:"splits"`
	Mode      extract.Mode `json:"mode"`
	// Workers each get a shard of the images and their own writer.
	Workers int `json:"workers"`
	// Fields name the image attributes (split, class, label, filename, path)
	// stored in the metadata columns. Defaults to the column names.
	Fields []string `json:"fields"`

	Store  store.Config       `json:"store"`
	Table  schema.TableConfig `json:"table"`
	Batch  writer.BatchConfig `json:"batch"`
	Loader loader.Config      `json:"loader"`
}

type ConfigLoader[C any] struct {
	filePath string
}

func NewConfigLoader[C any](filePath string) (zero *ConfigLoader[C], _ error) {
	if len(filePath) == 0 {
		return zero, fmt.Errorf("config file path is empty")
	}
	return &ConfigLoader[C]{
		filePath: filePath,
	}, nil
}

func (cl *ConfigLoader[C]) Load() (zero C, _ error) {
	var config C
	jsFile, err := os.ReadFile(cl.filePath)
	if err != nil {
		return zero, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(jsFile, &config); err != nil {
		return zero, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return config, nil
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	debug := flag.Bool("d", false, "Enable debug logging")
	flag.Parse()

	logHandlerOpts := slog.HandlerOptions{} //nolint:exhaustruct // optional config
	if *debug {
		logHandlerOpts.Level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &logHandlerOpts))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	cl, err := NewConfigLoader[Config](*configPath)
	if err != nil {
		log.Error("failed to create config loader", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := cl.Load()
	if err != nil {
		log.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("extraction failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	if cfg.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}
	if len(cfg.Splits) == 0 {
		cfg.Splits = []string{"train"}
	}
	if cfg.Mode == "" {
		cfg.Mode = extract.ModeBatch
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Loader.Root == "" {
		cfg.Loader.Root = cfg.SourceDir
	}

	mapper, err := schema.NewMapper(cfg.Table)
	if err != nil {
		return fmt.Errorf("create schema mapper: %w", err)
	}

	fields := cfg.Fields
	if len(fields) == 0 {
		for _, col := range mapper.Columns() {
			fields = append(fields, col.Name)
		}
	}

	jobs, err := extract.Walk(os.DirFS(cfg.SourceDir), cfg.Splits)
	if err != nil {
		return fmt.Errorf("walk dataset: %w", err)
	}
	log.Info("Dataset scanned", slog.Int("images", len(jobs)), slog.Any("splits", cfg.Splits))

	contentLoader, err := loader.New(ctx, cfg.Loader)
	if err != nil {
		return fmt.Errorf("create content loader: %w", err)
	}

	sess, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sess.Close()

	var (
		mu    sync.Mutex
		total extract.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		shard := extract.Shard(jobs, cfg.Workers, i)
		g.Go(func() error {
			w, err := writer.New(gctx, sess, mapper, contentLoader, cfg.Batch)
			if err != nil {
				return fmt.Errorf("worker %d: create writer: %w", i, err)
			}

			r, err := extract.NewRunner(w, contentLoader, fields, cfg.Mode, log.With(slog.Int("worker", i)))
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}

			res, err := r.Run(gctx, shard)

			mu.Lock()
			total.Written += res.Written
			total.Skipped += res.Skipped
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("Extraction finished", slog.Int("written", total.Written), slog.Int("skipped", total.Skipped))

	return err
}
