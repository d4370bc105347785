package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/app"
	"github.com/kailas-cloud/recdex/internal/config"
	logpkg "github.com/kailas-cloud/recdex/internal/logger"
	"github.com/kailas-cloud/recdex/internal/repository/source"
	evaluateuc "github.com/kailas-cloud/recdex/internal/usecase/evaluate"
	ingestuc "github.com/kailas-cloud/recdex/internal/usecase/ingest"
	recommenduc "github.com/kailas-cloud/recdex/internal/usecase/recommend"
	"github.com/kailas-cloud/recdex/internal/version"
)

const (
	metaConfig = "config"
	metaLogger = "logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "recdexctl",
		Usage:   "Catalog ingestion and offline evaluation for recdex",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment whose config/<env>.yaml is loaded",
				EnvVars: []string{"ENV"},
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Explicit config file path (overrides --env lookup)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Before: setup,
		After:  syncLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Load the product catalog, embed it and reconcile the vector index",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Product JSON file (default: <data_dir>/products.json)",
					},
					&cli.IntFlag{
						Name:  "lookback-days",
						Usage: "Sales velocity window in days (default: ingest.lookback_days)",
					},
				},
			},
			{
				Name:   "evaluate",
				Usage:  "Run the test queries through retrieval and write a ranked CSV",
				Action: evaluateCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "CSV output path, - for stdout",
						Value:   "evaluation.csv",
					},
					&cli.StringSliceFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "Query to evaluate (repeatable; default: built-in test queries)",
					},
				},
			},
		},
	}
}

// setup loads configuration and the logger before any command runs.
func setup(c *cli.Context) error {
	env := c.String("env")

	var (
		cfg config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := c.String("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logpkg.NewLogger(env, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = logger
	return nil
}

func syncLogger(c *cli.Context) error {
	if l, ok := c.App.Metadata[metaLogger].(*zap.Logger); ok {
		_ = l.Sync()
	}
	return nil
}

func fromMeta(c *cli.Context) (config.Config, *zap.Logger) {
	cfg, _ := c.App.Metadata[metaConfig].(config.Config)
	logger, ok := c.App.Metadata[metaLogger].(*zap.Logger)
	if !ok {
		logger = zap.NewNop()
	}
	return cfg, logger
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func ingestCommand(c *cli.Context) error {
	cfg, logger := fromMeta(c)

	lookback := c.Int("lookback-days")
	if lookback < 0 {
		return fmt.Errorf("lookback-days must be positive, got %d", lookback)
	}
	if lookback == 0 {
		lookback = cfg.Ingest.LookbackDays
	}

	records, err := source.New(cfg.Ingest.DataDir, logger).Products(c.String("source"))
	if err != nil {
		return fmt.Errorf("load catalog source: %w", err)
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	svc, err := ingestuc.New(deps.Catalog, deps.DocEmbedder, ingestuc.Config{
		EmbedBatchSize:    cfg.Ingest.EmbedBatchSize,
		Concurrency:       cfg.Ingest.Concurrency,
		RequestsPerSecond: cfg.Ingest.RequestsPerSecond,
		Burst:             cfg.Ingest.Burst,
	}, logger)
	if err != nil {
		return err
	}
	defer svc.Release()

	report, err := svc.Ingest(ctx, records, lookback)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	_, _ = fmt.Fprintf(c.App.Writer,
		"ingested %d items into %q: %d upserted, %d deleted in %s\n",
		report.Items, cfg.Index.Collection, report.Upserted, report.Deleted, report.Duration.Round(time.Millisecond),
	)
	return nil
}

func evaluateCommand(c *cli.Context) error {
	cfg, logger := fromMeta(c)

	ctx, cancel := signalContext(c)
	defer cancel()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	rec := recommenduc.New(deps.Catalog, deps.QueryEmbedder, recommenduc.Config{
		TopK:       cfg.Recommend.TopK,
		CandidateK: cfg.Recommend.CandidateK,
		PageSize:   cfg.Recommend.PageSize,
	}, logger)

	rows, err := evaluateuc.New(rec, logger).Run(ctx, c.StringSlice("query"))
	if err != nil {
		return err
	}

	return writeRows(c.App.Writer, c.String("out"), rows)
}

func writeRows(stdout io.Writer, out string, rows []evaluateuc.Row) error {
	if out == "-" {
		return evaluateuc.WriteCSV(stdout, rows)
	}

	f, err := os.Create(out) //nolint:gosec // operator-supplied output path
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	if err := evaluateuc.WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", out, err)
	}
	_, _ = fmt.Fprintf(stdout, "wrote %d rows to %s\n", len(rows), out)
	return nil
}
